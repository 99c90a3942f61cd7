package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsbhttp"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
	"google.golang.org/protobuf/encoding/protowire"
)

// patternTypeFieldNumber is the field number of pattern_type in the
// MalwarePatternType protobuf message.
const patternTypeFieldNumber protowire.Number = 1

// FullHash is the client of the gethash endpoint.  It resolves hash prefixes
// into the full-sized hashes that confirm a match.
type FullHash struct {
	logger  *slog.Logger
	http    *gsbhttp.Client
	baseURL *url.URL
	delay   *DelayController
	metrics Metrics

	apiKey string
}

// FullHashConfig is the configuration structure of the full-hash client.
// All fields must not be empty.
type FullHashConfig struct {
	// Logger is used for logging the client operation.
	Logger *slog.Logger

	// HTTP is the HTTP client used for all requests.
	HTTP *gsbhttp.Client

	// BaseURL is the base URL of the Safe Browsing API.
	BaseURL *url.URL

	// Delay is the fair-use delay controller of the gethash endpoint.
	Delay *DelayController

	// Metrics collects the request statistics.
	Metrics Metrics

	// APIKey is the Safe Browsing API key.
	APIKey string
}

// NewFullHash returns a new full-hash client.  c must not be nil.
func NewFullHash(c *FullHashConfig) (f *FullHash) {
	return &FullHash{
		logger:  c.Logger,
		http:    c.HTTP,
		baseURL: netutil.CloneURL(c.BaseURL),
		delay:   c.Delay,
		metrics: c.Metrics,
		apiKey:  c.APIKey,
	}
}

// FullHashes requests the full-sized hashes for the given prefixes, which
// must be non-empty and of equal length.  A response with no content yields
// an empty result.
func (f *FullHash) FullHashes(
	ctx context.Context,
	prefixes [][]byte,
) (resp *gsb.HashResponse, err error) {
	reqBody, err := hashRequestBody(prefixes)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	f.logger.DebugContext(ctx, "resolving full hashes", "prefixes", len(prefixes))

	err = f.delay.Sleep(ctx, EndpointFullHash, f.metrics)
	if err != nil {
		return nil, err
	}

	raw, err := f.call(ctx, reqBody)
	if err != nil {
		return nil, fmt.Errorf("gethash request: %w", err)
	}

	if len(raw) == 0 {
		return &gsb.HashResponse{}, nil
	}

	resp, err = ParseHashResponse(raw)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return resp, nil
}

// call posts body to the gethash endpoint and returns the raw response.  An
// empty body with status No Content is not an error.
func (f *FullHash) call(ctx context.Context, body []byte) (raw []byte, err error) {
	start := f.delay.clock.Now()
	defer func() {
		f.metrics.HandleRequest(ctx, EndpointFullHash, f.delay.clock.Now().Sub(start), err)
	}()

	u := endpointURL(f.baseURL, pathGetHash, f.apiKey)
	httpResp, err := f.http.Post(ctx, u, gsbhttp.HdrValApplicationOctetStream, bytes.NewReader(body))
	if err != nil {
		f.delay.HandleError()

		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, httpResp.Body.Close()) }()

	if httpResp.StatusCode == http.StatusNoContent {
		f.delay.HandleSuccess()

		return nil, nil
	}

	err = gsbhttp.CheckStatus(httpResp, http.StatusOK)
	if err != nil {
		f.delay.HandleError()

		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	raw, err = io.ReadAll(httpResp.Body)
	if err != nil {
		f.delay.HandleError()

		return nil, fmt.Errorf("reading response: %w", err)
	}

	f.delay.HandleSuccess()

	return raw, nil
}

// hashRequestBody builds the gethash request body: an ASCII header with the
// prefix and total lengths followed by the concatenated prefix bytes.
func hashRequestBody(prefixes [][]byte) (body []byte, err error) {
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("gethash request: no prefixes")
	}

	prefixLen := len(prefixes[0])
	b := &bytes.Buffer{}
	_, _ = fmt.Fprintf(b, "%d:%d\n", prefixLen, prefixLen*len(prefixes))
	for i, p := range prefixes {
		if len(p) != prefixLen {
			return nil, fmt.Errorf(
				"gethash request: prefix at index %d has length %d, expected %d",
				i,
				len(p),
				prefixLen,
			)
		}

		_, _ = b.Write(p)
	}

	return b.Bytes(), nil
}

// ParseHashResponse parses the body of a gethash response: the cache
// lifetime line followed by zero or more hash-entry blocks.
func ParseHashResponse(body []byte) (resp *gsb.HashResponse, err error) {
	first, rest, ok := bytes.Cut(body, []byte("\n"))
	if !ok {
		return nil, fmt.Errorf("%w: no cache lifetime", ErrMalformedHashResponse)
	}

	lifetime, err := strconv.Atoi(strings.TrimSpace(string(first)))
	if err != nil {
		return nil, fmt.Errorf("%w: bad cache lifetime %q", ErrMalformedHashResponse, first)
	}

	resp = &gsb.HashResponse{
		CacheLifetime: time.Duration(lifetime) * time.Second,
	}

	resp.Entries, err = parseHashEntries(rest)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// parseHashEntries parses the hash-entry blocks of a gethash response.
func parseHashEntries(b []byte) (entries []gsb.FullHashEntry, err error) {
	for len(b) > 0 {
		entries, b, err = parseHashBlock(entries, b)
		if err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// parseHashBlock parses a single hash-entry block: a header line, the
// concatenated full hashes, and the metadata records when the header carries
// the "m" marker.
func parseHashBlock(
	entries []gsb.FullHashEntry,
	b []byte,
) (res []gsb.FullHashEntry, rest []byte, err error) {
	header, rest, ok := bytes.Cut(b, []byte("\n"))
	if !ok {
		return nil, nil, fmt.Errorf("%w: no entry header", ErrMalformedHashResponse)
	}

	listName, entryLen, entryCount, hasMeta, err := parseBlockHeader(string(header))
	if err != nil {
		return nil, nil, err
	}

	if len(rest) < entryLen*entryCount {
		return nil, nil, fmt.Errorf(
			"%w: %d bytes left for %d hashes",
			ErrMalformedHashResponse,
			len(rest),
			entryCount,
		)
	}

	blockEntries := make([]gsb.FullHashEntry, entryCount)
	for i := range blockEntries {
		e := &blockEntries[i]
		e.ListName = listName
		copy(e.Hash[:], rest[i*entryLen:(i+1)*entryLen])
	}

	rest = rest[entryLen*entryCount:]
	if !hasMeta {
		if len(rest) > 0 {
			return nil, nil, fmt.Errorf(
				"%w: %d trailing bytes without metadata",
				ErrMalformedHashResponse,
				len(rest),
			)
		}

		return append(entries, blockEntries...), rest, nil
	}

	for i := range blockEntries {
		blockEntries[i].PatternType, rest, err = parseMetadataRecord(rest)
		if err != nil {
			return nil, nil, err
		}
	}

	return append(entries, blockEntries...), rest, nil
}

// parseBlockHeader parses a hash-block header of the form
// "list_name:entry_len:entry_count[:m]".
func parseBlockHeader(
	header string,
) (listName string, entryLen, entryCount int, hasMeta bool, err error) {
	opts := strings.Split(header, ":")
	switch len(opts) {
	case 3:
		// No metadata.
	case 4:
		if opts[3] != "m" {
			return "", 0, 0, false, fmt.Errorf(
				"%w: bad entry header %q",
				ErrMalformedHashResponse,
				header,
			)
		}

		hasMeta = true
	default:
		return "", 0, 0, false, fmt.Errorf(
			"%w: bad entry header %q",
			ErrMalformedHashResponse,
			header,
		)
	}

	listName = opts[0]
	entryLen, err = strconv.Atoi(opts[1])
	if err != nil || entryLen != gsb.HashLen {
		return "", 0, 0, false, fmt.Errorf(
			"%w: bad entry length in %q",
			ErrMalformedHashResponse,
			header,
		)
	}

	entryCount, err = strconv.Atoi(opts[2])
	if err != nil || entryCount < 0 {
		return "", 0, 0, false, fmt.Errorf(
			"%w: bad entry count in %q",
			ErrMalformedHashResponse,
			header,
		)
	}

	return listName, entryLen, entryCount, hasMeta, nil
}

// parseMetadataRecord parses one metadata record: an ASCII length line
// followed by that many bytes of a MalwarePatternType protobuf message.
func parseMetadataRecord(b []byte) (patternType int, rest []byte, err error) {
	lenLine, rest, ok := bytes.Cut(b, []byte("\n"))
	if !ok {
		return 0, nil, fmt.Errorf("%w: no metadata length", ErrMalformedHashResponse)
	}

	metaLen, err := strconv.Atoi(string(lenLine))
	if err != nil || metaLen < 0 || metaLen > len(rest) {
		return 0, nil, fmt.Errorf(
			"%w: bad metadata length %q",
			ErrMalformedHashResponse,
			lenLine,
		)
	}

	patternType, err = parsePatternType(rest[:metaLen])
	if err != nil {
		return 0, nil, err
	}

	return patternType, rest[metaLen:], nil
}

// parsePatternType decodes the pattern_type field of a MalwarePatternType
// protobuf message.
func parsePatternType(b []byte) (patternType int, err error) {
	found := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, fmt.Errorf("%w: bad metadata tag", ErrMalformedHashResponse)
		}

		b = b[n:]
		if num == patternTypeFieldNumber && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, fmt.Errorf("%w: bad pattern type", ErrMalformedHashResponse)
			}

			patternType, found, b = int(v), true, b[n:]

			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, fmt.Errorf("%w: bad metadata field %d", ErrMalformedHashResponse, num)
		}

		b = b[n:]
	}

	if !found {
		return 0, fmt.Errorf("%w: no pattern type in metadata", ErrMalformedHashResponse)
	}

	return patternType, nil
}
