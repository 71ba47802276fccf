package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReassembly(t *testing.T) {
	// spec.md §8 scenario 2: "Frame reassembly".
	stream := []byte{
		0x01, 0x01, 0x00, 0x05, 0x00, 0x00, 0x00, 0x07, 'A', 'B', 'C', 'D', 'E',
		0x01, 0x02, 0x00, 0x02, 'F', 'G',
	}

	d := NewDecoder()
	packets, err := d.Feed(stream)
	require.NoError(t, err)
	require.Len(t, packets, 2)

	assert.Equal(t, byte(1), packets[0].Channel)
	assert.Equal(t, FlagFirst, packets[0].Flags)
	assert.True(t, packets[0].HasTotalLength)
	assert.Equal(t, uint32(7), packets[0].TotalLength)
	assert.Equal(t, []byte("ABCDE"), packets[0].Payload)

	assert.Equal(t, byte(1), packets[1].Channel)
	assert.Equal(t, FlagLast, packets[1].Flags)
	assert.False(t, packets[1].HasTotalLength)
	assert.Equal(t, []byte("FG"), packets[1].Payload)
}

func TestDecodeAcrossArbitraryChunkBoundaries(t *testing.T) {
	stream := []byte{
		0x01, 0x01, 0x00, 0x05, 0x00, 0x00, 0x00, 0x07, 'A', 'B', 'C', 'D', 'E',
		0x01, 0x02, 0x00, 0x02, 'F', 'G',
	}

	for chunkSize := 1; chunkSize <= len(stream); chunkSize++ {
		d := NewDecoder()
		var got []Packet
		for i := 0; i < len(stream); i += chunkSize {
			end := i + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			pkts, err := d.Feed(stream[i:end])
			require.NoError(t, err)
			got = append(got, pkts...)
		}
		require.Lenf(t, got, 2, "chunk size %d", chunkSize)
		assert.Equal(t, []byte("ABCDE"), got[0].Payload)
		assert.Equal(t, []byte("FG"), got[1].Payload)
	}
}

func TestEncodeSingleRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 2, 15, 16, 16*1024 - 1, 16 * 1024}
	for _, size := range sizes {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		encoded := EncodeSingle(3, 0, payload)
		d := NewDecoder()
		pkts, err := d.Feed(encoded)
		require.NoError(t, err)
		require.Len(t, pkts, 1)
		assert.Equal(t, byte(3), pkts[0].Channel)
		assert.True(t, pkts[0].IsFirst())
		assert.True(t, pkts[0].IsLast())
		assert.Equal(t, payload, pkts[0].Payload)
	}
}

func TestEncodeMultiFramePreservesOrderAndTotal(t *testing.T) {
	first := EncodeFirst(2, 0, 10, []byte("hello"))
	last := EncodeContinuation(2, 0, true, []byte("world"))

	d := NewDecoder()
	pkts, err := d.Feed(append(first, last...))
	require.NoError(t, err)
	require.Len(t, pkts, 2)
	assert.True(t, pkts[0].IsFirst())
	assert.False(t, pkts[0].IsLast())
	assert.Equal(t, uint32(10), pkts[0].TotalLength)
	assert.True(t, pkts[1].IsLast())
	assert.False(t, pkts[1].IsFirst())
}
