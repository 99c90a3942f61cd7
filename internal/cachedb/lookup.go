package cachedb

import (
	"context"
	"fmt"

	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/golibs/errors"
)

// LookupHashPrefix reports whether some live add-chunk holds the given hash
// prefix.  A prefix is live when no sub-chunk entry cancels it for the
// add-chunk that contributed it.  Stored 32-byte prefixes match through
// their leading bytes.
func (s *Storage) LookupHashPrefix(ctx context.Context, prefix []byte) (ok bool, err error) {
	err = s.db.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM hash_prefix hp`+
			` WHERE hp.chunk_type = ?`+
			` AND (hp.value = ? OR substr(hp.value, 1, ?) = ?)`+
			` AND NOT EXISTS(SELECT 1 FROM sub_reference sr`+
			` WHERE sr.list_name = hp.list_name`+
			` AND sr.value = hp.value`+
			` AND (sr.add_chunk_number = hp.chunk_number OR sr.add_chunk_number = 0)))`,
		gsb.ChunkTypeAdd,
		prefix,
		len(prefix),
		prefix,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("looking up hash prefix: %w", err)
	}

	return ok, nil
}

// LookupFullHash returns the lists and metadata of every non-expired cached
// full hash equal to hash.
func (s *Storage) LookupFullHash(ctx context.Context, hash [gsb.HashLen]byte) (matches []gsb.ListMatch, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT list_name, metadata FROM full_hash WHERE value = ? AND expires_at > ?`,
		hash[:],
		s.clock.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("looking up full hash: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var m gsb.ListMatch
		err = rows.Scan(&m.ListName, &m.PatternType)
		if err != nil {
			return nil, fmt.Errorf("scanning full-hash match: %w", err)
		}

		matches = append(matches, m)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterating full-hash matches: %w", err)
	}

	return matches, nil
}

// FullHashSyncRequired reports whether the full hashes for prefix have to be
// requested from the remote service: true when no non-expired cached entry
// starts with prefix.
func (s *Storage) FullHashSyncRequired(ctx context.Context, prefix []byte) (required bool, err error) {
	var exists bool
	err = s.db.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM full_hash`+
			` WHERE substr(value, 1, ?) = ? AND expires_at > ?)`,
		len(prefix),
		prefix,
		s.clock.Now().Unix(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking full-hash freshness: %w", err)
	}

	return !exists, nil
}

// StoreFullHashes caches the entries of a gethash response, replacing any
// cached entry with the same list and hash.  prefix is the prefix the
// response was requested for.
func (s *Storage) StoreFullHashes(
	ctx context.Context,
	prefix []byte,
	resp *gsb.HashResponse,
) (err error) {
	defer func() { err = errors.Annotate(err, "storing full hashes: %w") }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	expiresAt := s.clock.Now().Add(resp.CacheLifetime).Unix()
	for _, e := range resp.Entries {
		_, err = tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO full_hash (list_name, value, metadata, expires_at)`+
				` VALUES (?, ?, ?, ?)`,
			e.ListName,
			e.Hash[:],
			e.PatternType,
			expiresAt,
		)
		if err != nil {
			return rollback(tx, fmt.Errorf("inserting full hash of %q: %w", e.ListName, err))
		}
	}

	s.logger.DebugContext(
		ctx,
		"stored full hashes",
		"prefix_len", len(prefix),
		"count", len(resp.Entries),
	)

	return tx.Commit()
}
