package cachedb

import (
	"context"
	"fmt"
	"slices"

	"github.com/AdguardTeam/AdGuardGSB/internal/chunkrange"
	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/golibs/errors"
)

// ExistingChunks returns the compressed chunk-number inventory of every
// subscribed list that has stored chunks.
func (s *Storage) ExistingChunks(ctx context.Context) (inv map[string]gsb.ChunkRanges, err error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT list_name, chunk_type, chunk_number FROM chunk`+
			` ORDER BY list_name, chunk_type, chunk_number`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chunk inventory: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	nums := map[string]map[gsb.ChunkType][]uint32{}
	for rows.Next() {
		var listName string
		var chunkType gsb.ChunkType
		var number uint32
		err = rows.Scan(&listName, &chunkType, &number)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk inventory: %w", err)
		}

		byType := nums[listName]
		if byType == nil {
			byType = map[gsb.ChunkType][]uint32{}
			nums[listName] = byType
		}

		byType[chunkType] = append(byType[chunkType], number)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterating chunk inventory: %w", err)
	}

	inv = map[string]gsb.ChunkRanges{}
	for listName, byType := range nums {
		inv[listName] = gsb.ChunkRanges{
			Add: chunkrange.Compress(byType[gsb.ChunkTypeAdd]),
			Sub: chunkrange.Compress(byType[gsb.ChunkTypeSub]),
		}
	}

	return inv, nil
}

// ChunkExists reports whether a chunk with c's list, type, and number is
// already stored.
func (s *Storage) ChunkExists(ctx context.Context, c *gsb.Chunk) (ok bool, err error) {
	return chunkExists(ctx, s.db, c)
}

// chunkExists is the implementation of [Storage.ChunkExists] on a database
// or transaction handle.
func chunkExists(ctx context.Context, db dbtx, c *gsb.Chunk) (ok bool, err error) {
	err = db.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM chunk`+
			` WHERE list_name = ? AND chunk_number = ? AND chunk_type = ?)`,
		c.ListName,
		c.Number,
		c.Type,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking chunk %d of %q: %w", c.Number, c.ListName, err)
	}

	return ok, nil
}

// StoreChunk stores a chunk and its hash prefixes.  Storing an already
// present (list, type, number) combination is a no-op.
func (s *Storage) StoreChunk(ctx context.Context, c *gsb.Chunk) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting chunk store: %w", err)
	}

	_, err = storeChunk(ctx, tx, c)
	if err != nil {
		return rollback(tx, err)
	}

	return tx.Commit()
}

// storeChunk is the implementation of [Storage.StoreChunk] on a transaction
// handle.  stored is false when the chunk was already present.
func storeChunk(ctx context.Context, tx dbtx, c *gsb.Chunk) (stored bool, err error) {
	ok, err := chunkExists(ctx, tx, c)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return false, err
	} else if ok {
		return false, nil
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO chunk (list_name, chunk_number, chunk_type) VALUES (?, ?, ?)`,
		c.ListName,
		c.Number,
		c.Type,
	)
	if err != nil {
		return false, fmt.Errorf("inserting chunk %d of %q: %w", c.Number, c.ListName, err)
	}

	for i, h := range c.Hashes {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO hash_prefix`+
				` (list_name, chunk_number, chunk_type, prefix_length, value)`+
				` VALUES (?, ?, ?, ?, ?)`,
			c.ListName,
			c.Number,
			c.Type,
			c.PrefixLen,
			h,
		)
		if err != nil {
			return false, fmt.Errorf(
				"inserting prefix of chunk %d of %q: %w",
				c.Number,
				c.ListName,
				err,
			)
		}

		if c.Type == gsb.ChunkTypeSub {
			err = storeSubReference(ctx, tx, c, i, h)
			if err != nil {
				return false, err
			}
		}
	}

	return true, nil
}

// storeSubReference records which add-chunk the i-th entry of a sub-chunk
// cancels.  Entries with no add-chunk number cancel their prefix regardless
// of the contributing add-chunk and are stored with a zero reference.
func storeSubReference(ctx context.Context, tx dbtx, c *gsb.Chunk, i int, h []byte) (err error) {
	var addNumber uint32
	if i < len(c.AddNumbers) {
		addNumber = c.AddNumbers[i]
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO sub_reference (list_name, chunk_number, add_chunk_number, value)`+
			` VALUES (?, ?, ?, ?)`,
		c.ListName,
		c.Number,
		addNumber,
		h,
	)
	if err != nil {
		return fmt.Errorf("inserting sub reference of chunk %d of %q: %w", c.Number, c.ListName, err)
	}

	return nil
}

// DeleteAddChunks deletes the given add-chunks of a list together with their
// hash prefixes.
func (s *Storage) DeleteAddChunks(ctx context.Context, listName string, nums []uint32) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting add-chunk deletion: %w", err)
	}

	err = deleteChunks(ctx, tx, listName, gsb.ChunkTypeAdd, nums)
	if err != nil {
		return rollback(tx, err)
	}

	return tx.Commit()
}

// DeleteSubChunks deletes the given sub-chunks of a list together with their
// hash prefixes and sub-references.
func (s *Storage) DeleteSubChunks(ctx context.Context, listName string, nums []uint32) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting sub-chunk deletion: %w", err)
	}

	err = deleteChunks(ctx, tx, listName, gsb.ChunkTypeSub, nums)
	if err != nil {
		return rollback(tx, err)
	}

	return tx.Commit()
}

// deleteChunks deletes chunks of one list and type.  The numbers are folded
// into consecutive runs, so that arbitrarily large expanded ranges do not
// run into statement-variable limits.
func deleteChunks(
	ctx context.Context,
	tx dbtx,
	listName string,
	chunkType gsb.ChunkType,
	nums []uint32,
) (err error) {
	queries := []string{
		`DELETE FROM chunk WHERE list_name = ?` +
			` AND chunk_type = ? AND chunk_number BETWEEN ? AND ?`,
		`DELETE FROM hash_prefix WHERE list_name = ?` +
			` AND chunk_type = ? AND chunk_number BETWEEN ? AND ?`,
	}

	for _, r := range runs(nums) {
		for _, q := range queries {
			_, err = tx.ExecContext(ctx, q, listName, chunkType, r.start, r.end)
			if err != nil {
				return fmt.Errorf(
					"deleting %s chunks %d-%d of %q: %w",
					chunkType,
					r.start,
					r.end,
					listName,
					err,
				)
			}
		}

		if chunkType != gsb.ChunkTypeSub {
			continue
		}

		_, err = tx.ExecContext(
			ctx,
			`DELETE FROM sub_reference WHERE list_name = ? AND chunk_number BETWEEN ? AND ?`,
			listName,
			r.start,
			r.end,
		)
		if err != nil {
			return fmt.Errorf(
				"deleting sub references %d-%d of %q: %w",
				r.start,
				r.end,
				listName,
				err,
			)
		}
	}

	return nil
}

// numRun is one inclusive run of consecutive chunk numbers.
type numRun struct {
	start uint32
	end   uint32
}

// runs folds nums into its maximal runs of consecutive numbers.
func runs(nums []uint32) (res []numRun) {
	sorted := slices.Clone(nums)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}

		res = append(res, numRun{start: sorted[i], end: sorted[j]})
		i = j + 1
	}

	return res
}

// ApplyDelta applies a sync delta in a single transaction: reset first when
// required, then deletions, then the new chunks in arrival order.  It
// reports whether the delta contained any work.  Any error, including one
// surfaced by the lazy chunk source, rolls the whole transaction back.
func (s *Storage) ApplyDelta(ctx context.Context, d *gsb.SyncDelta) (changed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting delta transaction: %w", err)
	}

	changed, err = s.applyDelta(ctx, tx, d)
	if err != nil {
		return false, rollback(tx, err)
	}

	err = tx.Commit()
	if err != nil {
		return false, fmt.Errorf("committing delta: %w", err)
	}

	return changed, nil
}

// applyDelta is the transaction body of [Storage.ApplyDelta].
func (s *Storage) applyDelta(ctx context.Context, tx dbtx, d *gsb.SyncDelta) (changed bool, err error) {
	if d.ResetRequired {
		s.logger.WarnContext(ctx, "reset required, purging cache")

		err = purge(ctx, tx)
		if err != nil {
			// Don't wrap the error, because it's informative enough as is.
			return false, err
		}

		changed = true
	}

	for listName, nums := range d.DelAdd {
		err = deleteChunks(ctx, tx, listName, gsb.ChunkTypeAdd, nums)
		if err != nil {
			return false, err
		}

		changed = changed || len(nums) > 0
	}

	for listName, nums := range d.DelSub {
		err = deleteChunks(ctx, tx, listName, gsb.ChunkTypeSub, nums)
		if err != nil {
			return false, err
		}

		changed = changed || len(nums) > 0
	}

	stored := 0
	for {
		c, err := d.Chunks.Next(ctx)
		if err != nil {
			return false, fmt.Errorf("pulling next chunk: %w", err)
		} else if c == nil {
			break
		}

		ok, err := storeChunk(ctx, tx, c)
		if err != nil {
			return false, err
		}

		if ok {
			stored++
		}
	}

	s.logger.InfoContext(ctx, "delta applied", "chunks", stored, "reset", d.ResetRequired)

	return changed || stored > 0, nil
}
