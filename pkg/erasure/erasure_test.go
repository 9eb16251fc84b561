package erasure

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/klauspost/reedsolomon"
	"github.com/skshohagmiah/ledgerdb/pkg/packet"
	"github.com/skshohagmiah/ledgerdb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSlot   = 7
	testParent = 6

	// parent, slot and index precede the flags and size fields
	sizeFieldOffset = 8 + 8 + 8 + 4
)

// makeDataBlobs builds n data blobs of varying payload length starting at startIndex
func makeDataBlobs(startIndex uint64, n int) []*packet.Blob {
	blobs := make([]*packet.Blob, n)
	for i := range blobs {
		payload := bytes.Repeat([]byte{byte(i + 1)}, 100+i*10)
		payload[0] = byte(startIndex)
		blobs[i] = packet.NewDataBlob(testSlot, testParent, startIndex+uint64(i), payload)
	}
	return blobs
}

// encodedSet encodes a full set and returns data and coding blobs
func encodedSet(t *testing.T, setIndex uint64) ([]*packet.Blob, []*packet.Blob) {
	t.Helper()
	start := setIndex * NumData
	data := makeDataBlobs(start, NumData)
	coding, err := Encode(testSlot, setIndex, start, data, NumCoding)
	require.NoError(t, err)
	require.Len(t, coding, NumCoding)
	return data, coding
}

// dropPositions lays out data then coding and removes the given positions
func dropPositions(data, coding []*packet.Blob, missing ...int) ([]*packet.Blob, []bool) {
	all := make([]*packet.Blob, 0, len(data)+len(coding))
	for _, b := range data {
		all = append(all, b.Clone())
	}
	for _, b := range coding {
		all = append(all, b.Clone())
	}

	present := make([]bool, len(all))
	for i := range present {
		present[i] = true
	}
	for _, pos := range missing {
		all[pos] = &packet.Blob{}
		present[pos] = false
	}
	return all, present
}

func TestEncodeStampsSession(t *testing.T) {
	data, coding := encodedSet(t, 2)

	shardSize := packet.BlobHeaderSize + 100 + (NumData-1)*10
	for _, b := range data {
		h := b.CodingHeader()
		assert.True(t, h.Encoded)
		assert.Equal(t, NumData, h.DataCount)
		assert.Equal(t, NumCoding, h.ParityCount)
		assert.Equal(t, uint64(16), h.StartIndex)
		assert.Equal(t, shardSize, h.ShardSize)
		assert.True(t, h.HasSetIndex)
		assert.Equal(t, uint64(2), h.SetIndex)
		assert.False(t, b.IsCoding())
	}

	for i, c := range coding {
		assert.True(t, c.IsCoding())
		assert.Equal(t, uint64(i), c.Index())
		assert.Equal(t, uint64(testSlot), c.Slot())
		assert.Equal(t, uint64(testParent), c.Parent())
		assert.Equal(t, shardSize, c.Size())
		assert.Equal(t, data[0].CodingHeader(), c.CodingHeader())
	}
}

func TestEncodeDeterministic(t *testing.T) {
	first := makeDataBlobs(0, NumData)
	second := makeDataBlobs(0, NumData)

	c1, err := Encode(testSlot, 0, 0, first, NumCoding)
	require.NoError(t, err)
	c2, err := Encode(testSlot, 0, 0, second, NumCoding)
	require.NoError(t, err)

	for i := range c1 {
		assert.Equal(t, c1[i].Bytes(), c2[i].Bytes(), "coding blob %d differs", i)
	}

	// Re-encoding already stamped blobs yields the same parity
	c3, err := Encode(testSlot, 0, 0, first, NumCoding)
	require.NoError(t, err)
	for i := range c1 {
		assert.Equal(t, c1[i].Bytes(), c3[i].Bytes())
	}
}

func TestEncodeRejectsBadGeometry(t *testing.T) {
	_, err := Encode(testSlot, 0, 0, nil, NumCoding)
	assert.ErrorIs(t, err, ErrTooFewShards)

	_, err = Encode(testSlot, 0, 0, makeDataBlobs(0, NumData), 0)
	assert.ErrorIs(t, err, ErrInvalidShardCount)

	_, err = Encode(testSlot, 0, 0, makeDataBlobs(0, 200), 56)
	assert.ErrorIs(t, err, ErrInvalidShardCount)
}

func TestDecodeSingleErasure(t *testing.T) {
	data, coding := encodedSet(t, 0)

	for pos := 0; pos < ErasureSetSize; pos++ {
		t.Run(fmt.Sprintf("position-%d", pos), func(t *testing.T) {
			blobs, present := dropPositions(data, coding, pos)

			recoveredData, recoveredCoding, err := Decode(blobs, present)
			require.NoError(t, err)

			if pos < NumData {
				require.Len(t, recoveredData, 1)
				assert.Empty(t, recoveredCoding)
				assert.Equal(t, data[pos].Bytes(), recoveredData[0].Bytes())
				assert.Equal(t, uint64(pos), recoveredData[0].Index())
				assert.Equal(t, data[pos].Size(), recoveredData[0].Size())
				return
			}

			require.Len(t, recoveredCoding, 1)
			assert.Empty(t, recoveredData)
			assert.Equal(t, coding[pos-NumData].Bytes(), recoveredCoding[0].Bytes())
		})
	}
}

func TestDecodeMultipleErasures(t *testing.T) {
	data, coding := encodedSet(t, 1)

	// Three data shards and one coding shard lost
	blobs, present := dropPositions(data, coding, 1, 4, 6, NumData+2)

	recoveredData, recoveredCoding, err := Decode(blobs, present)
	require.NoError(t, err)
	require.Len(t, recoveredData, 3)
	require.Len(t, recoveredCoding, 1)

	for i, pos := range []int{1, 4, 6} {
		assert.Equal(t, data[pos].Bytes(), recoveredData[i].Bytes())
		assert.Equal(t, uint64(NumData+pos), recoveredData[i].Index())
		assert.Equal(t, data[pos].Payload(), recoveredData[i].Payload())
	}
	assert.Equal(t, coding[2].Bytes(), recoveredCoding[0].Bytes())
	assert.Equal(t, uint64(2), recoveredCoding[0].Index())
}

func TestDecodeParityBoundary(t *testing.T) {
	data, coding := encodedSet(t, 0)

	// Exactly NumCoding missing is recoverable
	missing := []int{0, 1, 2, 3, 4, 9, 10, 11}
	blobs, present := dropPositions(data, coding, missing...)
	recoveredData, recoveredCoding, err := Decode(blobs, present)
	require.NoError(t, err)
	assert.Len(t, recoveredData, 5)
	assert.Len(t, recoveredCoding, 3)
	for i := 0; i < 5; i++ {
		assert.Equal(t, data[i].Bytes(), recoveredData[i].Bytes())
	}

	// One more is not
	blobs, present = dropPositions(data, coding, append(missing, 12)...)
	_, _, err = Decode(blobs, present)
	assert.ErrorIs(t, err, ErrInsufficientShards)
}

func TestDecodeTooManyMissingMatchesStatus(t *testing.T) {
	data, coding := encodedSet(t, 0)

	missingData := []int{0, 1, 2, 3, 4}
	missingCoding := []int{0, 1, 2, 3}

	meta := types.ErasureMetaFromHeader(data[0].CodingHeader())
	meta.SetDataMulti(types.IndexRange(0, NumData), true)
	meta.SetCodingMulti(types.IndexRange(0, NumCoding), true)

	positions := make([]int, 0, len(missingData)+len(missingCoding))
	for _, i := range missingData {
		meta.SetDataPresent(uint64(i), false)
		positions = append(positions, i)
	}
	for _, i := range missingCoding {
		meta.SetCodingPresent(uint64(i), false)
		positions = append(positions, int(meta.CodingIndexInSet(uint64(i))))
	}

	status := meta.Status()
	assert.Equal(t, types.StatusStillNeed, status.Kind)
	assert.Equal(t, 1, status.Need)

	blobs, present := dropPositions(data, coding, positions...)
	_, _, err := Decode(blobs, present)
	assert.ErrorIs(t, err, ErrInsufficientShards)
}

func TestDecodeDoesNotModifyInputs(t *testing.T) {
	data, coding := encodedSet(t, 0)
	blobs, present := dropPositions(data, coding, 2, NumData+5)

	before := make([][]byte, len(blobs))
	for i, b := range blobs {
		before[i] = bytes.Clone(b.Data)
	}
	presentBefore := append([]bool(nil), present...)

	_, _, err := Decode(blobs, present)
	require.NoError(t, err)

	for i, b := range blobs {
		assert.Equal(t, before[i], b.Data, "position %d modified", i)
	}
	assert.Equal(t, presentBefore, present)
}

func TestDecodeHeaderFallback(t *testing.T) {
	data, coding := encodedSet(t, 0)

	// Last position missing, session comes from an earlier blob
	blobs, present := dropPositions(data, coding, ErasureSetSize-1, 0)
	recoveredData, recoveredCoding, err := Decode(blobs, present)
	require.NoError(t, err)
	require.Len(t, recoveredData, 1)
	require.Len(t, recoveredCoding, 1)
	assert.Equal(t, coding[NumCoding-1].Bytes(), recoveredCoding[0].Bytes())
}

func TestDecodeErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, _, err := Decode(nil, nil)
		assert.ErrorIs(t, err, ErrTooFewShards)
	})

	t.Run("presence length mismatch", func(t *testing.T) {
		data, coding := encodedSet(t, 0)
		blobs, present := dropPositions(data, coding)
		_, _, err := Decode(blobs, present[1:])
		assert.ErrorIs(t, err, ErrShardCountMismatch)
	})

	t.Run("set length mismatch", func(t *testing.T) {
		data, coding := encodedSet(t, 0)
		blobs, present := dropPositions(data, coding)
		_, _, err := Decode(blobs[:len(blobs)-1], present[:len(present)-1])
		assert.ErrorIs(t, err, ErrShardCountMismatch)
	})

	t.Run("no session", func(t *testing.T) {
		blobs := makeDataBlobs(0, ErasureSetSize)
		present := make([]bool, len(blobs))
		for i := range present {
			present[i] = true
		}
		present[0] = false
		_, _, err := Decode(blobs, present)
		assert.ErrorIs(t, err, ErrNoSessionInfo)
	})

	t.Run("zero shard size", func(t *testing.T) {
		blobs := makeDataBlobs(0, ErasureSetSize)
		header := types.CodingHeader{DataCount: NumData, ParityCount: NumCoding, Encoded: true}
		present := make([]bool, len(blobs))
		for i, b := range blobs {
			b.SetCodingHeader(header)
			present[i] = true
		}
		present[3] = false
		_, _, err := Decode(blobs, present)
		assert.ErrorIs(t, err, ErrZeroShardSize)
	})

	t.Run("corrupt size", func(t *testing.T) {
		data, coding := encodedSet(t, 0)
		blobs, present := dropPositions(data, coding, 3)

		// Session claims shards narrower than the blob the lost position held
		last := blobs[len(blobs)-1]
		h := last.CodingHeader()
		h.ShardSize = 100
		last.SetCodingHeader(h)

		_, _, err := Decode(blobs, present)
		assert.ErrorIs(t, err, ErrCorruptShard)
	})

	t.Run("overflowing declared size", func(t *testing.T) {
		data, coding := encodedSet(t, 0)
		reencodeWithSize(t, data, coding, 0, 1<<63)

		blobs, present := dropPositions(data, coding, 0)
		_, _, err := Decode(blobs, present)
		assert.ErrorIs(t, err, ErrCorruptShard)
	})

	t.Run("declared size past shard", func(t *testing.T) {
		data, coding := encodedSet(t, 0)
		reencodeWithSize(t, data, coding, 2, packet.BlobDataSize)

		blobs, present := dropPositions(data, coding, 2)
		_, _, err := Decode(blobs, present)
		assert.ErrorIs(t, err, ErrCorruptShard)
	})

	t.Run("oversized session shard", func(t *testing.T) {
		data, coding := encodedSet(t, 0)
		blobs, present := dropPositions(data, coding, 1)

		last := blobs[len(blobs)-1]
		h := last.CodingHeader()
		h.ShardSize = packet.BlobSize + 1
		last.SetCodingHeader(h)

		_, _, err := Decode(blobs, present)
		assert.ErrorIs(t, err, ErrCorruptShard)
	})
}

// reencodeWithSize writes size into the header of data[pos] and recomputes the
// parity payloads so the set stays consistent with the altered bytes
func reencodeWithSize(t *testing.T, data, coding []*packet.Blob, pos int, size uint64) {
	t.Helper()

	shardSize := data[0].CodingHeader().ShardSize
	binary.LittleEndian.PutUint64(data[pos].Data[sizeFieldOffset:], size)

	rs, err := reedsolomon.New(len(data), len(coding))
	require.NoError(t, err)

	shards := make([][]byte, len(data)+len(coding))
	for i, b := range data {
		shards[i] = make([]byte, shardSize)
		copy(shards[i], b.Data)
	}
	for i, c := range coding {
		shards[len(data)+i] = c.Shard(packet.CodingShard, shardSize)
	}
	require.NoError(t, rs.Encode(shards))
}

func TestEncodeRejectsInvalidSize(t *testing.T) {
	data := makeDataBlobs(0, NumData)
	binary.LittleEndian.PutUint64(data[0].Data[sizeFieldOffset:], 1<<63)

	_, err := Encode(testSlot, 0, 0, data, NumCoding)
	assert.ErrorIs(t, err, ErrCorruptShard)

	data = makeDataBlobs(0, NumData)
	data[4].SetCoding()
	_, err = Encode(testSlot, 0, 0, data, NumCoding)
	assert.ErrorIs(t, err, ErrCorruptShard)
}

func TestSharedRoundTrip(t *testing.T) {
	data := makeDataBlobs(0, NumData)
	originals := make([][]byte, len(data))
	for i, b := range data {
		originals[i] = bytes.Clone(b.Payload())
	}

	shared := packet.ShareAll(data)
	coding, err := EncodeShared(testSlot, 0, 0, shared, NumCoding)
	require.NoError(t, err)
	require.Len(t, coding, NumCoding)

	set := append(append([]*packet.SharedBlob{}, shared...), coding...)
	present := make([]bool, len(set))
	for i := range present {
		present[i] = true
	}
	set[5] = packet.NewSharedBlob(nil)
	present[5] = false
	set[NumData+1] = packet.NewSharedBlob(nil)
	present[NumData+1] = false

	recoveredData, recoveredCoding, err := DecodeShared(set, present)
	require.NoError(t, err)
	require.Len(t, recoveredData, 1)
	require.Len(t, recoveredCoding, 1)
	assert.Equal(t, originals[5], recoveredData[0].Payload())
	assert.Equal(t, coding[1].Snapshot().Bytes(), recoveredCoding[0].Bytes())
}

func TestSharedRejectsDuplicateHandle(t *testing.T) {
	shared := packet.ShareAll(makeDataBlobs(0, NumData))
	shared[3] = shared[2]

	_, err := EncodeShared(testSlot, 0, 0, shared, NumCoding)
	assert.ErrorIs(t, err, ErrDuplicateShard)

	// Locks were never taken, so the handles are still usable
	shared[2].Write(func(b *packet.Blob) { b.SetLastInSlot() })
}

func TestSharedConcurrentSets(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 4)

	for set := uint64(0); set < 4; set++ {
		wg.Add(1)
		go func(set uint64) {
			defer wg.Done()
			shared := packet.ShareAll(makeDataBlobs(set*NumData, NumData))
			if _, err := EncodeShared(testSlot, set, set*NumData, shared, NumCoding); err != nil {
				errs <- err
			}
		}(set)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("encode failed: %v", err)
	}
}
