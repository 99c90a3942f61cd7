// Package sblist contains the Safe Browsing list façade: it composes the
// persistent cache with the protocol clients and exposes the sync and lookup
// operations.
package sblist

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/AdGuardGSB/internal/cachedb"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/AdGuardGSB/internal/protocol"
	"github.com/AdguardTeam/AdGuardGSB/internal/urlhash"
)

// SafeBrowsingList is the local mirror of the subscribed Safe Browsing
// lists.  It owns the storage handle; all reads and writes go through it.
type SafeBrowsingList struct {
	logger     *slog.Logger
	storage    *cachedb.Storage
	prefixes   *protocol.PrefixList
	fullHashes *protocol.FullHash
	metrics    Metrics

	// syncMu makes sure that only one sync is running at a time.
	syncMu *sync.Mutex
}

// Config is the configuration structure of the façade.  All fields must not
// be nil.
type Config struct {
	// Logger is used for logging the operation of the list.
	Logger *slog.Logger

	// Storage is the persistent cache.
	Storage *cachedb.Storage

	// PrefixList is the client of the downloads endpoint.
	PrefixList *protocol.PrefixList

	// FullHashes is the client of the gethash endpoint.
	FullHashes *protocol.FullHash

	// Metrics collects the sync and lookup statistics.
	Metrics Metrics
}

// New returns a new Safe Browsing list.  c must not be nil.
func New(c *Config) (l *SafeBrowsingList) {
	return &SafeBrowsingList{
		logger:     c.Logger,
		storage:    c.Storage,
		prefixes:   c.PrefixList,
		fullHashes: c.FullHashes,
		metrics:    c.Metrics,
		syncMu:     &sync.Mutex{},
	}
}

// Close closes the underlying storage.
func (l *SafeBrowsingList) Close() (err error) {
	return l.storage.Close()
}

// Sync performs one synchronization pass: it reports the local chunk
// inventory to the remote service and applies the returned delta in a single
// transaction.  changed is false when the local cache was already in sync.
// A concurrent call returns [gsb.ErrSyncInProgress].
func (l *SafeBrowsingList) Sync(ctx context.Context) (changed bool, err error) {
	if !l.syncMu.TryLock() {
		return false, gsb.ErrSyncInProgress
	}
	defer l.syncMu.Unlock()

	defer func() { l.metrics.HandleSync(ctx, changed, err) }()

	existing, err := l.storage.ExistingChunks(ctx)
	if err != nil {
		return false, fmt.Errorf("reading chunk inventory: %w", err)
	}

	delta, err := l.prefixes.FetchMissing(ctx, existing)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return false, err
	}

	changed, err = l.storage.ApplyDelta(ctx, delta)
	if err != nil {
		return false, fmt.Errorf("applying delta: %w", err)
	}

	return changed, nil
}

// Lookup checks rawURL against the local cache and returns the matched lists
// with their metadata, nil when the URL is clean.  Positive prefix hits are
// confirmed through the gethash endpoint unless fresh cached full hashes are
// available.
func (l *SafeBrowsingList) Lookup(ctx context.Context, rawURL string) (matches []gsb.ListMatch, err error) {
	hashes, err := urlhash.Hashes(rawURL)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	for _, h := range hashes {
		matches, err = l.lookupHash(ctx, h)
		if err != nil {
			return nil, err
		}

		if len(matches) > 0 {
			l.metrics.HandleLookup(ctx, true)

			return matches, nil
		}
	}

	l.metrics.HandleLookup(ctx, false)

	return nil, nil
}

// lookupHash checks one candidate hash against the cache, resolving full
// hashes on demand.
func (l *SafeBrowsingList) lookupHash(ctx context.Context, h urlhash.Hash) (matches []gsb.ListMatch, err error) {
	prefix := h.Prefix()
	ok, err := l.storage.LookupHashPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("looking up prefix: %w", err)
	}

	if !ok {
		return nil, nil
	}

	l.logger.DebugContext(ctx, "prefix hit", "prefix", hex.EncodeToString(prefix))

	err = l.syncFullHashes(ctx, prefix)
	if err != nil {
		return nil, err
	}

	matches, err = l.storage.LookupFullHash(ctx, [gsb.HashLen]byte(h))
	if err != nil {
		return nil, fmt.Errorf("looking up full hash: %w", err)
	}

	return matches, nil
}

// syncFullHashes refreshes the cached full hashes for prefix when the cached
// entries have expired or were never fetched.
func (l *SafeBrowsingList) syncFullHashes(ctx context.Context, prefix []byte) (err error) {
	required, err := l.storage.FullHashSyncRequired(ctx, prefix)
	if err != nil {
		return fmt.Errorf("checking full-hash freshness: %w", err)
	}

	if !required {
		l.logger.DebugContext(ctx, "cached full hashes are fresh")

		return nil
	}

	resp, err := l.fullHashes.FullHashes(ctx, [][]byte{prefix})
	if err != nil {
		return fmt.Errorf("resolving full hashes: %w", err)
	}

	if len(resp.Entries) == 0 {
		l.logger.DebugContext(ctx, "no full hashes for prefix", "prefix", hex.EncodeToString(prefix))

		return nil
	}

	err = l.storage.StoreFullHashes(ctx, prefix, resp)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	return nil
}
