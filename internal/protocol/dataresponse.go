package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/AdGuardGSB/internal/chunkrange"
)

// chunkURL is a reference to one chunk container within a data response.
type chunkURL struct {
	// listName is the list the container belongs to.
	listName string

	// url is the absolute URL of the container.
	url string
}

// DataResponse is the parsed envelope of the downloads endpoint.
type DataResponse struct {
	// DelAdd are the add-chunk numbers to delete, per list.
	DelAdd map[string][]uint32

	// DelSub are the sub-chunk numbers to delete, per list.
	DelSub map[string][]uint32

	// chunkURLs are the chunk containers to fetch, in response order.
	chunkURLs []chunkURL

	// NextPoll is the delay before the next downloads call, from the
	// mandatory first "n:" line.
	NextPoll time.Duration

	// ResetRequired is true when the envelope carried an "r:" directive.
	ResetRequired bool
}

// ParseDataResponse parses the body of a downloads response.  Trailing
// whitespace on the delay line is tolerated; any unknown line prefix is an
// error wrapping [ErrProtocol].
func ParseDataResponse(body []byte) (dr *DataResponse, err error) {
	lines := strings.Split(string(body), "\n")

	first := strings.TrimSpace(lines[0])
	secs, ok := strings.CutPrefix(first, "n:")
	if !ok {
		return nil, fmt.Errorf("%w: expected poll interval, got %q", ErrProtocol, first)
	}

	nextPoll, err := strconv.Atoi(strings.TrimSpace(secs))
	if err != nil {
		return nil, fmt.Errorf("%w: bad poll interval %q", ErrProtocol, first)
	}

	dr = &DataResponse{
		DelAdd:   map[string][]uint32{},
		DelSub:   map[string][]uint32{},
		NextPoll: time.Duration(nextPoll) * time.Second,
	}

	curList := ""
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		curList, err = dr.parseLine(line, curList)
		if err != nil {
			return nil, err
		}
	}

	return dr, nil
}

// parseLine parses a single envelope line and returns the possibly updated
// current-list context.
func (dr *DataResponse) parseLine(line, curList string) (newList string, err error) {
	tag, val, _ := strings.Cut(line, ":")
	switch tag {
	case "i":
		return val, nil
	case "u":
		if !strings.Contains(val, "://") {
			val = "https://" + val
		}

		if curList == "" {
			return "", fmt.Errorf("%w: chunk url %q without a list", ErrProtocol, val)
		}

		dr.chunkURLs = append(dr.chunkURLs, chunkURL{listName: curList, url: val})
	case "r":
		dr.ResetRequired = true
	case "ad", "sd":
		if curList == "" {
			return "", fmt.Errorf("%w: deletions %q without a list", ErrProtocol, line)
		}

		nums, err := chunkrange.Expand(val)
		if err != nil {
			return "", fmt.Errorf("%w: deletions %q: %w", ErrProtocol, line, err)
		}

		if tag == "ad" {
			dr.DelAdd[curList] = append(dr.DelAdd[curList], nums...)
		} else {
			dr.DelSub[curList] = append(dr.DelSub[curList], nums...)
		}
	default:
		return "", fmt.Errorf("%w: unexpected line prefix in %q", ErrProtocol, line)
	}

	return curList, nil
}
