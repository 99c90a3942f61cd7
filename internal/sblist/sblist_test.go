package sblist_test

import (
	"crypto/sha256"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AdguardTeam/AdGuardGSB/internal/cachedb"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsbhttp"
	"github.com/AdguardTeam/AdGuardGSB/internal/protocol"
	"github.com/AdguardTeam/AdGuardGSB/internal/sblist"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout of the package tests.
const testTimeout = 5 * time.Second

// testListName is the list used throughout the package tests.
const testListName = "goog-malware-shavar"

// testBlockedURL is the URL the test server blacklists.
const testBlockedURL = "http://malware.example/bad/page.html"

// chunkContainer encodes a single-chunk container holding one four-byte
// prefix in an add-chunk.
func chunkContainer(number uint32, prefix []byte) (body []byte) {
	// ChunkData: chunk_number, then the hashes bytes field.
	msg := []byte{0x08}
	msg = appendUvarint(msg, uint64(number))
	msg = append(msg, 0x22, byte(len(prefix)))
	msg = append(msg, prefix...)

	body = []byte{0, 0, 0, byte(len(msg))}

	return append(body, msg...)
}

// appendUvarint appends the protobuf varint encoding of v to b.
func appendUvarint(b []byte, v uint64) (res []byte) {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}

	return append(b, byte(v))
}

// newTestList returns a façade backed by a test server that serves one
// add-chunk whose only prefix is the hash prefix of testBlockedURL, and full
// hashes confirming the match with pattern type 2.
func newTestList(t *testing.T) (l *sblist.SafeBrowsingList) {
	t.Helper()

	fullHash := sha256.Sum256([]byte("malware.example/"))
	prefix := fullHash[:gsb.PrefixLen]

	mux := http.NewServeMux()
	mux.HandleFunc("/downloads", func(w http.ResponseWriter, r *http.Request) {
		envelope := "n:1704\n" +
			"i:" + testListName + "\n" +
			fmt.Sprintf("u:http://%s/rd/1\n", r.Host)
		_, err := w.Write([]byte(envelope))
		require.NoError(t, err)
	})
	mux.HandleFunc("/rd/1", func(w http.ResponseWriter, _ *http.Request) {
		_, err := w.Write(chunkContainer(336325, prefix))
		require.NoError(t, err)
	})
	mux.HandleFunc("/gethash", func(w http.ResponseWriter, _ *http.Request) {
		body := "600\n" + testListName + ":32:1:m\n" + string(fullHash[:]) + "2\n\x08\x02"
		_, err := w.Write([]byte(body))
		require.NoError(t, err)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	logger := slogutil.NewDiscardLogger()
	httpCli := gsbhttp.NewClient(&gsbhttp.ClientConfig{Timeout: testTimeout})

	storage, err := cachedb.New(&cachedb.Config{
		Logger: logger,
		Clock:  timeutil.SystemClock{},
		Path:   filepath.Join(t.TempDir(), "gsb_v3.db"),
	})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, storage.Close)

	newDelay := func(policy protocol.DelayPolicy) (d *protocol.DelayController) {
		return protocol.NewDelayController(&protocol.DelayControllerConfig{
			Logger:  logger,
			Clock:   timeutil.SystemClock{},
			Rand:    rand.New(rand.NewPCG(1, 2)),
			Policy:  policy,
			Discard: true,
		})
	}

	return sblist.New(&sblist.Config{
		Logger:  logger,
		Storage: storage,
		PrefixList: protocol.NewPrefixList(&protocol.PrefixListConfig{
			Logger:  logger,
			HTTP:    httpCli,
			BaseURL: u,
			Delay:   newDelay(protocol.PolicyPrefixList),
			Metrics: protocol.EmptyMetrics{},
			APIKey:  "test-key",
			Lists:   []string{testListName},
		}),
		FullHashes: protocol.NewFullHash(&protocol.FullHashConfig{
			Logger:  logger,
			HTTP:    httpCli,
			BaseURL: u,
			Delay:   newDelay(protocol.PolicyFullHash),
			Metrics: protocol.EmptyMetrics{},
			APIKey:  "test-key",
		}),
		Metrics: sblist.EmptyMetrics{},
	})
}

func TestSafeBrowsingList_syncAndLookup(t *testing.T) {
	l := newTestList(t)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	changed, err := l.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	// A second pass stores nothing new.
	changed, err = l.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	matches, err := l.Lookup(ctx, testBlockedURL)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	assert.Equal(t, testListName, matches[0].ListName)
	assert.Equal(t, 2, matches[0].PatternType)

	matches, err = l.Lookup(ctx, "http://clean.example/")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSafeBrowsingList_concurrentSync(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/downloads", func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release

		_, err := w.Write([]byte("n:1704\n"))
		require.NoError(t, err)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	logger := slogutil.NewDiscardLogger()
	storage, err := cachedb.New(&cachedb.Config{
		Logger: logger,
		Clock:  timeutil.SystemClock{},
		Path:   filepath.Join(t.TempDir(), "gsb_v3.db"),
	})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, storage.Close)

	l := sblist.New(&sblist.Config{
		Logger:  logger,
		Storage: storage,
		PrefixList: protocol.NewPrefixList(&protocol.PrefixListConfig{
			Logger:  logger,
			HTTP:    gsbhttp.NewClient(&gsbhttp.ClientConfig{Timeout: testTimeout}),
			BaseURL: u,
			Delay: protocol.NewDelayController(&protocol.DelayControllerConfig{
				Logger:  logger,
				Clock:   timeutil.SystemClock{},
				Rand:    rand.New(rand.NewPCG(1, 2)),
				Policy:  protocol.PolicyPrefixList,
				Discard: true,
			}),
			Metrics: protocol.EmptyMetrics{},
			APIKey:  "test-key",
			Lists:   []string{testListName},
		}),
		FullHashes: protocol.NewFullHash(&protocol.FullHashConfig{
			Logger:  logger,
			HTTP:    gsbhttp.NewClient(&gsbhttp.ClientConfig{Timeout: testTimeout}),
			BaseURL: u,
			Delay: protocol.NewDelayController(&protocol.DelayControllerConfig{
				Logger:  logger,
				Clock:   timeutil.SystemClock{},
				Rand:    rand.New(rand.NewPCG(1, 2)),
				Policy:  protocol.PolicyFullHash,
				Discard: true,
			}),
			Metrics: protocol.EmptyMetrics{},
			APIKey:  "test-key",
		}),
		Metrics: sblist.EmptyMetrics{},
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()

		_, gErr := l.Sync(ctx)
		assert.NoError(t, gErr)
	}()

	// Wait until the first sync is inside the downloads request, then make
	// sure a second one is rejected.
	<-entered
	_, err = l.Sync(ctx)
	require.ErrorIs(t, err, gsb.ErrSyncInProgress)

	close(release)
	wg.Wait()
}
