package protocol_test

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsbhttp"
	"github.com/AdguardTeam/AdGuardGSB/internal/protocol"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPrefixList returns a prefix-list client backed by a test server
// running handler.
func newTestPrefixList(
	t *testing.T,
	handler http.Handler,
	lists []string,
) (p *protocol.PrefixList, srvURL string) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	p = protocol.NewPrefixList(&protocol.PrefixListConfig{
		Logger: slogutil.NewDiscardLogger(),
		HTTP: gsbhttp.NewClient(&gsbhttp.ClientConfig{
			Timeout: testTimeout,
		}),
		BaseURL: u,
		Delay: protocol.NewDelayController(&protocol.DelayControllerConfig{
			Logger:  slogutil.NewDiscardLogger(),
			Clock:   timeutil.SystemClock{},
			Rand:    rand.New(rand.NewPCG(1, 2)),
			Policy:  protocol.PolicyPrefixList,
			Discard: true,
		}),
		Metrics: protocol.EmptyMetrics{},
		APIKey:  "test-key",
		Lists:   lists,
	})

	return p, srv.URL
}

func TestPrefixList_FetchMissing(t *testing.T) {
	lists := []string{"goog-malware-shavar", "googpub-phish-shavar"}

	var gotBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/downloads", func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)

		host := r.Host
		envelope := "n:1704\n" +
			"i:goog-malware-shavar\n" +
			fmt.Sprintf("u:http://%s/rd/malware\n", host) +
			"ad:160929\n" +
			"i:googpub-phish-shavar\n" +
			fmt.Sprintf("u:http://%s/rd/phish\n", host)
		_, err = w.Write([]byte(envelope))
		require.NoError(t, err)
	})
	mux.HandleFunc("/rd/malware", func(w http.ResponseWriter, _ *http.Request) {
		_, err := w.Write([]byte(testContainerMalware))
		require.NoError(t, err)
	})
	mux.HandleFunc("/rd/phish", func(w http.ResponseWriter, _ *http.Request) {
		_, err := w.Write([]byte(testContainerPhish))
		require.NoError(t, err)
	})

	p, _ := newTestPrefixList(t, mux, lists)

	existing := map[string]gsb.ChunkRanges{
		"goog-malware-shavar": {
			Add: "160929-173975",
			Sub: "151695-152051",
		},
	}

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	delta, err := p.FetchMissing(ctx, existing)
	require.NoError(t, err)

	wantBody := "goog-malware-shavar;a:160929-173975:s:151695-152051\n" +
		"googpub-phish-shavar;\n"
	assert.Equal(t, wantBody, string(gotBody))

	assert.Equal(t, 1704*time.Second, delta.NextPoll)
	assert.False(t, delta.ResetRequired)
	assert.Equal(t, map[string][]uint32{"goog-malware-shavar": {160929}}, delta.DelAdd)

	var got []*gsb.Chunk
	for {
		c, err := delta.Chunks.Next(ctx)
		require.NoError(t, err)

		if c == nil {
			break
		}

		got = append(got, c)
	}

	require.Len(t, got, 3)

	assert.Equal(t, uint32(165041), got[0].Number)
	assert.Equal(t, gsb.ChunkTypeSub, got[0].Type)
	assert.Equal(t, "goog-malware-shavar", got[0].ListName)

	assert.Equal(t, uint32(173976), got[1].Number)
	assert.Equal(t, gsb.ChunkTypeAdd, got[1].Type)

	assert.Equal(t, uint32(336325), got[2].Number)
	assert.Equal(t, gsb.ChunkTypeAdd, got[2].Type)
	assert.Equal(t, "googpub-phish-shavar", got[2].ListName)
}

func TestPrefixList_FetchMissing_httpError(t *testing.T) {
	p, _ := newTestPrefixList(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}), []string{"goog-malware-shavar"})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	_, err := p.FetchMissing(ctx, nil)

	var statusErr *gsbhttp.StatusError
	require.ErrorAs(t, err, &statusErr)

	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Got)
}

func TestPrefixList_FetchMissing_chunkFetchError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/downloads", func(w http.ResponseWriter, r *http.Request) {
		envelope := "n:1704\n" +
			"i:goog-malware-shavar\n" +
			fmt.Sprintf("u:http://%s/rd/missing\n", r.Host)
		_, err := w.Write([]byte(envelope))
		require.NoError(t, err)
	})
	mux.HandleFunc("/rd/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	p, _ := newTestPrefixList(t, mux, []string{"goog-malware-shavar"})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	delta, err := p.FetchMissing(ctx, nil)
	require.NoError(t, err)

	_, err = delta.Chunks.Next(ctx)
	assert.Error(t, err)
}

func TestPrefixList_Lists(t *testing.T) {
	p, _ := newTestPrefixList(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, err := w.Write([]byte("goog-malware-shavar\ngoog-regtest-shavar\ngoogpub-phish-shavar\n"))
		require.NoError(t, err)
	}), nil)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	names, err := p.Lists(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"goog-malware-shavar",
		"goog-regtest-shavar",
		"googpub-phish-shavar",
	}, names)
}

func TestPrefixList_FetchMissing_cancelledSleep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	d := protocol.NewDelayController(&protocol.DelayControllerConfig{
		Logger: slogutil.NewDiscardLogger(),
		Clock:  timeutil.SystemClock{},
		Rand:   rand.New(rand.NewPCG(1, 2)),
		Policy: protocol.PolicyPrefixList,
	})
	d.SetNextCall(1 * time.Hour)

	p := protocol.NewPrefixList(&protocol.PrefixListConfig{
		Logger:  slogutil.NewDiscardLogger(),
		HTTP:    gsbhttp.NewClient(&gsbhttp.ClientConfig{Timeout: testTimeout}),
		BaseURL: u,
		Delay:   d,
		Metrics: protocol.EmptyMetrics{},
		APIKey:  "test-key",
		Lists:   []string{"goog-malware-shavar"},
	})

	ctx, cancel := context.WithCancel(testutil.ContextWithTimeout(t, testTimeout))
	go cancel()

	_, err = p.FetchMissing(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}
