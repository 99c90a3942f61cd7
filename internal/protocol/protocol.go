// Package protocol implements the update-protocol engine of the Safe
// Browsing v3 client: the data-response envelope parser, the binary chunk
// container decoder, the fair-use delay controller, and the clients of the
// downloads and gethash endpoints.
package protocol

import (
	"net/url"

	"github.com/AdguardTeam/golibs/errors"
)

// API endpoint paths under the base URL.
const (
	pathDownloads = "downloads"
	pathGetHash   = "gethash"
	pathList      = "list"
)

// Endpoint names used in logs and metrics.
const (
	EndpointPrefixList = "downloads"
	EndpointFullHash   = "gethash"
)

// Error sentinels of the protocol layer.  Decode and parse failures wrap
// these, so callers can distinguish the kinds with errors.Is.
const (
	// ErrProtocol means that a data response violated the envelope grammar.
	ErrProtocol errors.Error = "bad data response"

	// ErrMalformedChunk means that a chunk container could not be decoded.
	ErrMalformedChunk errors.Error = "malformed chunk"

	// ErrMalformedHashResponse means that a gethash response violated the
	// response grammar.
	ErrMalformedHashResponse errors.Error = "malformed hash response"
)

// endpointURL returns the URL of an API endpoint with the query parameters
// required on every call.
func endpointURL(base *url.URL, path, apiKey string) (u *url.URL) {
	u = base.JoinPath(path)

	q := url.Values{}
	q.Set("key", apiKey)
	q.Set("client", "api")
	q.Set("appver", "0.1")
	q.Set("pver", "3.0")
	u.RawQuery = q.Encode()

	return u
}
