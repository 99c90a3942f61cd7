package gsbhttp

import (
	"fmt"
	"net/http"

	"github.com/AdguardTeam/golibs/httphdr"
)

// StatusError is returned by methods when the HTTP status code is different
// from the expected.
type StatusError struct {
	ServerName string
	Expected   int
	Got        int
}

// type check
var _ error = (*StatusError)(nil)

// Error implements the error interface for *StatusError.
func (err *StatusError) Error() (msg string) {
	return fmt.Sprintf(
		"server %q: status code error: expected %d, got %d",
		err.ServerName,
		err.Expected,
		err.Got,
	)
}

// CheckStatus returns a non-nil error with the data from resp if the status
// code in resp is not equal to expected.  resp must be non-nil.
//
// Any error returned will have the underlying type of *StatusError.
func CheckStatus(resp *http.Response, expected int) (err error) {
	if resp.StatusCode == expected {
		return nil
	}

	return &StatusError{
		ServerName: resp.Header.Get(httphdr.Server),
		Expected:   expected,
		Got:        resp.StatusCode,
	}
}
