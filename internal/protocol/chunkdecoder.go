package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"google.golang.org/protobuf/encoding/protowire"
)

// ChunkData protobuf field numbers.
const (
	chunkDataFieldNumber     protowire.Number = 1
	chunkDataFieldChunkType  protowire.Number = 2
	chunkDataFieldPrefixType protowire.Number = 3
	chunkDataFieldHashes     protowire.Number = 4
	chunkDataFieldAddNumbers protowire.Number = 5
)

// chunkLenSize is the size of the big-endian length prefix of each record in
// a chunk container.
const chunkLenSize = 4

// ParseContainer decodes a chunk container: a concatenation of length-
// prefixed ChunkData protobuf messages.  listName is assigned to every
// decoded chunk.  Decoding stops cleanly when the remaining data is shorter
// than a length prefix.
func ParseContainer(listName string, body []byte) (chunks []*gsb.Chunk, err error) {
	for len(body) >= chunkLenSize {
		recLen := binary.BigEndian.Uint32(body[:chunkLenSize])
		body = body[chunkLenSize:]
		if uint64(len(body)) < uint64(recLen) {
			return nil, fmt.Errorf(
				"%w: record of %d bytes in %d remaining",
				ErrMalformedChunk,
				recLen,
				len(body),
			)
		}

		c, err := parseChunkData(listName, body[:recLen])
		if err != nil {
			return nil, err
		}

		chunks = append(chunks, c)
		body = body[recLen:]
	}

	return chunks, nil
}

// parseChunkData decodes a single ChunkData protobuf message.
func parseChunkData(listName string, b []byte) (c *gsb.Chunk, err error) {
	c = &gsb.Chunk{
		ListName:  listName,
		Type:      gsb.ChunkTypeAdd,
		PrefixLen: gsb.PrefixLen,
	}

	var rawHashes []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: bad tag", ErrMalformedChunk)
		}

		b = b[n:]
		switch num {
		case chunkDataFieldNumber:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad chunk number", ErrMalformedChunk)
			}

			c.Number, b = uint32(v), b[n:]
		case chunkDataFieldChunkType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad chunk type", ErrMalformedChunk)
			}

			c.Type, b = gsb.ChunkType(v), b[n:]
		case chunkDataFieldPrefixType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad prefix type", ErrMalformedChunk)
			}

			if v == 1 {
				c.PrefixLen = gsb.HashLen
			}

			b = b[n:]
		case chunkDataFieldHashes:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad hashes", ErrMalformedChunk)
			}

			rawHashes, b = v, b[n:]
		case chunkDataFieldAddNumbers:
			c.AddNumbers, b, err = consumeAddNumbers(c.AddNumbers, typ, b)
			if err != nil {
				return nil, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: bad field %d", ErrMalformedChunk, num)
			}

			b = b[n:]
		}
	}

	c.Hashes, err = splitHashes(rawHashes, c.PrefixLen)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", c.Number, err)
	}

	return c, nil
}

// consumeAddNumbers decodes the add_numbers field, which may be encoded
// packed or as a repeated varint.
func consumeAddNumbers(
	nums []uint32,
	typ protowire.Type,
	b []byte,
) (res []uint32, rest []byte, err error) {
	if typ != protowire.BytesType {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, nil, fmt.Errorf("%w: bad add number", ErrMalformedChunk)
		}

		return append(nums, uint32(v)), b[n:], nil
	}

	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, fmt.Errorf("%w: bad add numbers", ErrMalformedChunk)
	}

	rest = b[n:]
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, nil, fmt.Errorf("%w: bad packed add number", ErrMalformedChunk)
		}

		nums, packed = append(nums, uint32(v)), packed[n:]
	}

	return nums, rest, nil
}

// splitHashes splits the concatenated hash bytes into prefix-length pieces.
// The length of raw must be an exact multiple of prefixLen.
func splitHashes(raw []byte, prefixLen int) (hashes [][]byte, err error) {
	if len(raw)%prefixLen != 0 {
		return nil, fmt.Errorf(
			"%w: %d hash bytes with prefix length %d",
			ErrMalformedChunk,
			len(raw),
			prefixLen,
		)
	}

	hashes = make([][]byte, 0, len(raw)/prefixLen)
	for i := 0; i < len(raw); i += prefixLen {
		hashes = append(hashes, raw[i:i+prefixLen])
	}

	return hashes, nil
}
