package protocol

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsbhttp"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
)

// PrefixList is the client of the downloads endpoint.  It keeps the local
// chunk inventory in sync with the remote service under the fair-use policy.
type PrefixList struct {
	logger  *slog.Logger
	http    *gsbhttp.Client
	baseURL *url.URL
	delay   *DelayController
	metrics Metrics

	apiKey string
	lists  []string
}

// PrefixListConfig is the configuration structure of the prefix-list client.
// All fields must not be empty.
type PrefixListConfig struct {
	// Logger is used for logging the client operation.
	Logger *slog.Logger

	// HTTP is the HTTP client used for all requests.
	HTTP *gsbhttp.Client

	// BaseURL is the base URL of the Safe Browsing API.
	BaseURL *url.URL

	// Delay is the fair-use delay controller of the downloads endpoint.
	Delay *DelayController

	// Metrics collects the request statistics.
	Metrics Metrics

	// APIKey is the Safe Browsing API key.
	APIKey string

	// Lists are the names of the subscribed lists.
	Lists []string
}

// NewPrefixList returns a new prefix-list client.  c must not be nil.
func NewPrefixList(c *PrefixListConfig) (p *PrefixList) {
	return &PrefixList{
		logger:  c.Logger,
		http:    c.HTTP,
		baseURL: netutil.CloneURL(c.BaseURL),
		delay:   c.Delay,
		metrics: c.Metrics,
		apiKey:  c.APIKey,
		lists:   c.Lists,
	}
}

// FetchMissing posts the current chunk inventory to the downloads endpoint
// and returns the delta the server wants applied.  existing maps list names
// to their stored chunk ranges.  The chunks of the returned delta are
// fetched and decoded lazily as the delta is applied.
func (p *PrefixList) FetchMissing(
	ctx context.Context,
	existing map[string]gsb.ChunkRanges,
) (delta *gsb.SyncDelta, err error) {
	err = p.delay.Sleep(ctx, EndpointPrefixList, p.metrics)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	reqBody := downloadsBody(p.lists, existing)
	p.logger.DebugContext(ctx, "requesting missing chunks", "body_len", len(reqBody))

	raw, err := p.call(ctx, pathDownloads, strings.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("downloads request: %w", err)
	}

	dr, err := ParseDataResponse(raw)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	p.delay.SetNextCall(dr.NextPoll)

	return &gsb.SyncDelta{
		Chunks: &chunkSource{
			logger: p.logger,
			http:   p.http,
			urls:   dr.chunkURLs,
		},
		DelAdd:        dr.DelAdd,
		DelSub:        dr.DelSub,
		NextPoll:      dr.NextPoll,
		ResetRequired: dr.ResetRequired,
	}, nil
}

// Lists requests the names of the lists the service offers.
func (p *PrefixList) Lists(ctx context.Context) (names []string, err error) {
	raw, err := p.call(ctx, pathList, nil)
	if err != nil {
		return nil, fmt.Errorf("list request: %w", err)
	}

	return strings.Fields(string(raw)), nil
}

// call posts body to an endpoint and returns the raw response.  HTTP
// failures, including non-2xx statuses, are recorded in the delay controller
// before being returned.
func (p *PrefixList) call(ctx context.Context, path string, body io.Reader) (raw []byte, err error) {
	start := p.delay.clock.Now()
	defer func() {
		p.metrics.HandleRequest(ctx, EndpointPrefixList, p.delay.clock.Now().Sub(start), err)
	}()

	u := endpointURL(p.baseURL, path, p.apiKey)
	resp, err := p.http.Post(ctx, u, gsbhttp.HdrValTextPlain, body)
	if err != nil {
		p.delay.HandleError()

		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	err = gsbhttp.CheckStatus(resp, http.StatusOK)
	if err != nil {
		p.delay.HandleError()

		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		p.delay.HandleError()

		return nil, fmt.Errorf("reading response: %w", err)
	}

	p.delay.HandleSuccess()

	return raw, nil
}

// downloadsBody builds the request body of the downloads endpoint: one line
// per subscribed list carrying the stored chunk ranges.
func downloadsBody(lists []string, existing map[string]gsb.ChunkRanges) (body string) {
	b := &strings.Builder{}
	for _, name := range lists {
		ranges := existing[name]
		_, _ = b.WriteString(name)
		_, _ = b.WriteString(";")

		parts := []string{}
		if ranges.Add != "" {
			parts = append(parts, "a:"+ranges.Add)
		}

		if ranges.Sub != "" {
			parts = append(parts, "s:"+ranges.Sub)
		}

		_, _ = b.WriteString(strings.Join(parts, ":"))
		_, _ = b.WriteString("\n")
	}

	return b.String()
}

// chunkSource fetches and decodes the chunk containers of a data response on
// demand.
type chunkSource struct {
	logger *slog.Logger
	http   *gsbhttp.Client

	urls  []chunkURL
	queue []*gsb.Chunk
}

// type check
var _ gsb.ChunkSource = (*chunkSource)(nil)

// Next implements the [gsb.ChunkSource] interface for *chunkSource.
func (s *chunkSource) Next(ctx context.Context) (c *gsb.Chunk, err error) {
	for len(s.queue) == 0 {
		if len(s.urls) == 0 {
			return nil, nil
		}

		next := s.urls[0]
		s.urls = s.urls[1:]

		s.queue, err = s.fetch(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("fetching chunks of list %q: %w", next.listName, err)
		}
	}

	c, s.queue = s.queue[0], s.queue[1:]

	return c, nil
}

// fetch downloads and decodes one chunk container.  The response body is
// read to completion before the connection is released.
func (s *chunkSource) fetch(ctx context.Context, cu chunkURL) (chunks []*gsb.Chunk, err error) {
	s.logger.DebugContext(ctx, "fetching chunk container", "url", cu.url)

	u, err := url.Parse(cu.url)
	if err != nil {
		return nil, fmt.Errorf("bad chunk url: %w", err)
	}

	resp, err := s.http.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	err = gsbhttp.CheckStatus(resp, http.StatusOK)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading chunk container: %w", err)
	}

	return ParseContainer(cu.listName, body)
}
