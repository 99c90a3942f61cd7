package gsbhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
)

// Client is a wrapper around http.Client.
type Client struct {
	http      *http.Client
	userAgent string
}

// ClientConfig is the configuration structure for Client.
type ClientConfig struct {
	// UserAgent is the value of the User-Agent header on every request.  If
	// empty, [UserAgent] is used.
	UserAgent string

	// Timeout is the timeout for all requests.
	Timeout time.Duration
}

// NewClient returns a new client.  c must not be nil.
func NewClient(c *ClientConfig) (cli *Client) {
	ua := c.UserAgent
	if ua == "" {
		ua = UserAgent()
	}

	return &Client{
		http: &http.Client{
			Timeout: c.Timeout,
		},
		userAgent: ua,
	}
}

// Get is a wrapper around http.Client.Get.
//
// When err is nil, resp always contains a non-nil resp.Body.  Caller should
// close resp.Body when done reading from it.
func (c *Client) Get(ctx context.Context, u *url.URL) (resp *http.Response, err error) {
	return c.do(ctx, http.MethodGet, u, "", nil)
}

// Post is a wrapper around http.Client.Post.
//
// When err is nil, resp always contains a non-nil resp.Body.  Caller should
// close resp.Body when done reading from it.
func (c *Client) Post(
	ctx context.Context,
	u *url.URL,
	contentType string,
	body io.Reader,
) (resp *http.Response, err error) {
	return c.do(ctx, http.MethodPost, u, contentType, body)
}

// do is a wrapper around http.Client.Do.
func (c *Client) do(
	ctx context.Context,
	method string,
	u *url.URL,
	contentType string,
	body io.Reader,
) (resp *http.Response, err error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", method, err)
	}

	if contentType != "" {
		req.Header.Set(httphdr.ContentType, contentType)
	}

	req.Header.Set(httphdr.UserAgent, c.userAgent)

	return c.http.Do(req)
}
