// Package gsb contains the common entities of the Google Safe Browsing v3
// client: chunks, sync deltas, full-hash responses, and the errors shared by
// the protocol and storage layers.
package gsb

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// DefaultBaseURL is the base URL of the Safe Browsing v3 API.
const DefaultBaseURL = "https://safebrowsing.google.com/safebrowsing/"

// DefaultLists returns the list names the client subscribes to when no other
// set is configured.
func DefaultLists() (lists []string) {
	return []string{
		"goog-malware-shavar",
		"googpub-phish-shavar",
	}
}

// ErrSyncInProgress is returned by the façade when a sync is requested while
// another one is still running.
const ErrSyncInProgress errors.Error = "sync is already in progress"

// Hash and hash-prefix length constants, in bytes.
const (
	HashLen   = sha256.Size
	PrefixLen = 4
)

// ChunkType is the type of a chunk within a list: an add-chunk contributes
// hash prefixes to the blacklist, a sub-chunk cancels prefixes contributed by
// specific add-chunks.  The numeric values match the wire encoding.
type ChunkType uint8

// ChunkType values.
const (
	ChunkTypeAdd ChunkType = 0
	ChunkTypeSub ChunkType = 1
)

// type check
var _ fmt.Stringer = ChunkTypeAdd

// String implements the [fmt.Stringer] interface for ChunkType.
func (t ChunkType) String() (s string) {
	switch t {
	case ChunkTypeAdd:
		return "add"
	case ChunkTypeSub:
		return "sub"
	default:
		return fmt.Sprintf("!bad_chunk_type_%d", uint8(t))
	}
}

// Chunk is a single decoded chunk of hash prefixes.  Within one (list, type)
// pair chunk numbers are unique.
type Chunk struct {
	// ListName is the name of the list the chunk belongs to.
	ListName string

	// Hashes are the hash prefixes of the chunk.  Each one is exactly
	// PrefixLen bytes long.
	Hashes [][]byte

	// AddNumbers are the add-chunk numbers cancelled by the corresponding
	// entries of Hashes.  It is only set for sub-chunks and may be shorter
	// than Hashes, in which case the remaining entries cancel their prefix
	// regardless of the add-chunk that contributed it.
	AddNumbers []uint32

	// Number is the chunk number.
	Number uint32

	// PrefixLen is the length of each hash prefix, either 4 or 32 bytes.
	PrefixLen int

	// Type is the type of the chunk.
	Type ChunkType
}

// ChunkRanges is the compressed-text inventory of the chunk numbers stored
// for one list.  Empty strings mean that no chunks of that type are stored.
type ChunkRanges struct {
	// Add is the compressed range of the stored add-chunk numbers.
	Add string

	// Sub is the compressed range of the stored sub-chunk numbers.
	Sub string
}

// ChunkSource is a lazy iterator over the chunks of a sync delta.  The
// network fetches and decodes are driven by Next on demand.
type ChunkSource interface {
	// Next returns the next chunk.  It returns a nil chunk and a nil error
	// once the source is exhausted.
	Next(ctx context.Context) (c *Chunk, err error)
}

// SyncDelta is the set of changes the remote service wants applied to the
// local cache.
type SyncDelta struct {
	// Chunks is the lazy sequence of new chunks to store.
	Chunks ChunkSource

	// DelAdd are the add-chunk numbers to delete, per list.
	DelAdd map[string][]uint32

	// DelSub are the sub-chunk numbers to delete, per list.
	DelSub map[string][]uint32

	// NextPoll is the delay the server requested before the next downloads
	// call.
	NextPoll time.Duration

	// ResetRequired is true when the server directed a full purge of the
	// local cache before the delta is applied.
	ResetRequired bool
}

// FullHashEntry is one full-sized hash returned by the gethash endpoint.
type FullHashEntry struct {
	// ListName is the name of the list the hash belongs to.
	ListName string

	// Hash is the full SHA-256 of a blacklisted URL variant.
	Hash [HashLen]byte

	// PatternType is the decoded malware-pattern-type metadata.  Zero when
	// the block carried no metadata.
	PatternType int
}

// HashResponse is the parsed response of the gethash endpoint.
type HashResponse struct {
	// Entries are the returned full hashes in response order.
	Entries []FullHashEntry

	// CacheLifetime is the duration for which the entries may be served
	// from the local cache.
	CacheLifetime time.Duration
}

// ListMatch is a single lookup result: the list a URL hash was found in
// together with its metadata.
type ListMatch struct {
	// ListName is the name of the matched list.
	ListName string

	// PatternType is the stored metadata of the matched full hash, zero
	// when none was supplied.
	PatternType int
}
