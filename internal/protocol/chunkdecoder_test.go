package protocol_test

import (
	"testing"

	"github.com/AdguardTeam/AdGuardGSB/internal/gsb"
	"github.com/AdguardTeam/AdGuardGSB/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Chunk container bodies captured from the live v3 service.
// testContainerMalware holds sub-chunk 165041 with six four-byte prefixes
// followed by add-chunk 173976 with two.
const testContainerMalware = "\x00\x00\x00\x34" +
	"\x08\xb1\x89\x0a" + // chunk_number 165041
	"\x10\x01" + // chunk_type SUB
	"\x22\x18" + // hashes, 24 bytes
	"\xcc\xbd\x53\xfa\x3a\xb7\x1d\xa3\xd1\x52\x26\xde\xca\x1a\x92\xfb" +
	"\x84\x57\x79\x7f\x49\x35\xba\xe0" +
	"\x2a\x12" + // add_numbers, packed
	"\x97\xcd\x0a\xec\x8f\x0a\xf5\x9a\x0a\xe3\xf8\x09\xc8\xfe\x09\xb9\xb6\x0a" +
	"\x00\x00\x00\x0e" +
	"\x08\x98\xcf\x0a" + // chunk_number 173976
	"\x22\x08" + // hashes, 8 bytes
	"\xca\x8e\x6f\x6a\x24\x19\x72\x6f"

// testContainerPhish holds add-chunk 336325 with 21 four-byte prefixes.
const testContainerPhish = "\x00\x00\x00\x5a" +
	"\x08\xc5\xc3\x14" + // chunk_number 336325
	"\x22\x54" + // hashes, 84 bytes
	"\xa3\x70\xda\x91\x6c\xa9\xa5\xa8\x39\x53\x4f\x6c\x12\x2c\x0b\x58" +
	"\x42\x30\xed\x1f\x11\x34\x62\x32\xf2\x8b\x9a\xeb\xf4\xb6\xc1\x66" +
	"\xe6\x80\x21\x81\xdd\xc4\xb5\x4f\xfa\xfd\x4b\x53\x03\x3c\x97\xfb" +
	"\x83\xb6\x0d\xfa\xfe\x15\x24\xa0\xa7\x43\xd4\x57\xd8\x02\x39\xad" +
	"\x03\xf9\x72\x0c\x2f\x64\xb8\x6a\x7a\xc6\xaf\x34\x71\x51\xcc\x51" +
	"\x2f\x31\xb3\xc3"

func TestParseContainer(t *testing.T) {
	chunks, err := protocol.ParseContainer("goog-malware-shavar", []byte(testContainerMalware))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	sub := chunks[0]
	assert.Equal(t, "goog-malware-shavar", sub.ListName)
	assert.Equal(t, gsb.ChunkTypeSub, sub.Type)
	assert.Equal(t, uint32(165041), sub.Number)
	assert.Equal(t, 4, sub.PrefixLen)
	require.Len(t, sub.Hashes, 6)
	assert.Equal(t, []byte{0xcc, 0xbd, 0x53, 0xfa}, sub.Hashes[0])
	assert.Len(t, sub.AddNumbers, 6)

	add := chunks[1]
	assert.Equal(t, gsb.ChunkTypeAdd, add.Type)
	assert.Equal(t, uint32(173976), add.Number)
	require.Len(t, add.Hashes, 2)
	assert.Equal(t, []byte{0xca, 0x8e, 0x6f, 0x6a}, add.Hashes[0])
	assert.Empty(t, add.AddNumbers)
}

func TestParseContainer_phish(t *testing.T) {
	chunks, err := protocol.ParseContainer("googpub-phish-shavar", []byte(testContainerPhish))
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	add := chunks[0]
	assert.Equal(t, gsb.ChunkTypeAdd, add.Type)
	assert.Equal(t, uint32(336325), add.Number)
	assert.Len(t, add.Hashes, 21)
}

func TestParseContainer_shortLengthPrefix(t *testing.T) {
	// A trailing fragment shorter than a length prefix ends the stream
	// cleanly.
	body := testContainerPhish + "\x00\x00"
	chunks, err := protocol.ParseContainer("googpub-phish-shavar", []byte(body))
	require.NoError(t, err)

	assert.Len(t, chunks, 1)
}

func TestParseContainer_errors(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{{
		name: "truncated_record",
		body: "\x00\x00\x00\x10\x08\x01",
	}, {
		name: "uneven_hashes",
		// Three hash bytes with the default four-byte prefix length.
		body: "\x00\x00\x00\x07\x08\x01\x22\x03abc",
	}, {
		name: "bad_varint",
		body: "\x00\x00\x00\x02\x08\xff",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.ParseContainer("goog-malware-shavar", []byte(tc.body))
			assert.ErrorIs(t, err, protocol.ErrMalformedChunk)
		})
	}
}
