// Package gsbhttp contains the thin HTTP wrapper the Safe Browsing clients
// use: a client with a bounded timeout and a User-Agent, and the status-code
// checking helpers.
package gsbhttp

import "github.com/AdguardTeam/AdGuardGSB/internal/version"

// HTTP header value constants.
const (
	HdrValApplicationOctetStream = "application/octet-stream"
	HdrValTextPlain              = "text/plain"
)

// userAgent is the cached User-Agent string for AdGuardGSB.
var userAgent = version.Name() + "/" + version.Version()

// UserAgent returns the ID of this client as a User-Agent string.
func UserAgent() (ua string) {
	return userAgent
}
