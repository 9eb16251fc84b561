// Package erasure encodes and recovers erasure sets of blobs.
//
// Blobs are grouped into erasure sets of NumData data blobs and NumCoding
// coding blobs, coded together as one systematic Reed-Solomon block:
//
//	|<======================= NumData ==============================>|
//	+---+ +---+ +---+ +---+ +---+         +---+ +---+ +---+ +---+ +---+
//	| D | | D | | D | | D | | D |  . . .  | D | | D | | D | | D | | D |
//	+---+ +---+ +---+ +---+ +---+         +---+ +---+ +---+ +---+ +---+
//	| C | | C | | C | | C | | C |  . . .  | C | | C | | C | | C | | C |
//	+---+ +---+ +---+ +---+ +---+         +---+ +---+ +---+ +---+ +---+
//	|<======================= NumCoding ============================>|
//
// Data blobs keep their slot index. Coding blobs are indexed by parity
// position, 0 through NumCoding-1, within their set.
package erasure

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/klauspost/reedsolomon"
	"github.com/skshohagmiah/ledgerdb/pkg/packet"
	"github.com/skshohagmiah/ledgerdb/pkg/types"
)

const (
	NumData        = types.NumData
	NumCoding      = types.NumCoding
	ErasureSetSize = types.ErasureSetSize
	MaxSetSize     = types.MaxSetSize
)

var (
	// ErrTooFewShards is returned when there is nothing to encode or decode
	ErrTooFewShards = errors.New("too few shards")
	// ErrInvalidShardCount is returned for set shapes the code does not support
	ErrInvalidShardCount = errors.New("invalid shard count")
	// ErrShardCountMismatch is returned when inputs do not cover the set
	ErrShardCountMismatch = errors.New("shard count mismatch")
	// ErrInsufficientShards is returned when more shards are missing than the
	// parity count can correct. Decoding fails the same way until more arrive.
	ErrInsufficientShards = errors.New("insufficient shards for reconstruction")
	// ErrNoSessionInfo is returned when no blob carries an encoded coding header
	ErrNoSessionInfo = errors.New("no coding session info")
	// ErrZeroShardSize is returned for a session with unknown shard geometry
	ErrZeroShardSize = errors.New("zero shard size")
	// ErrCorruptShard is returned when a reconstructed blob header is inconsistent
	ErrCorruptShard = errors.New("corrupt shard")
	// ErrDuplicateShard is returned when the same shared blob appears twice in a set
	ErrDuplicateShard = errors.New("duplicate shared blob")
)

// checkGeometry rejects set shapes before they reach the coding library
func checkGeometry(data, parity int) error {
	if data < 1 {
		return fmt.Errorf("erasure: %w: data shards must be >= 1, got %d", ErrTooFewShards, data)
	}
	if parity < 1 {
		return fmt.Errorf("erasure: %w: parity shards must be >= 1, got %d", ErrInvalidShardCount, parity)
	}
	if data+parity > MaxSetSize {
		return fmt.Errorf("erasure: %w: total shards must be <= %d, got %d", ErrInvalidShardCount, MaxSetSize, data+parity)
	}
	return nil
}

func newCoder(data, parity int) (reedsolomon.Encoder, error) {
	if err := checkGeometry(data, parity); err != nil {
		return nil, err
	}
	rs, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, fmt.Errorf("erasure: new encoder: %w: %w", ErrInvalidShardCount, err)
	}
	return rs, nil
}

// Encode generates parity coding blobs for one erasure set of data blobs.
//
// Every data blob gets the session header stamped before encoding, so any one
// of them is enough to recover the session later. The shard size is the widest
// declared data size; narrower blobs are zero-padded. The returned coding blobs
// carry slot, parent, size, coding flag, session header and their 0-based
// parity position as index. Encode is deterministic for identical inputs.
func Encode(slot, setIndex, startIndex uint64, blobs []*packet.Blob, parity int) ([]*packet.Blob, error) {
	if len(blobs) == 0 {
		return nil, fmt.Errorf("erasure: encode: %w", ErrTooFewShards)
	}

	rs, err := newCoder(len(blobs), parity)
	if err != nil {
		return nil, err
	}

	shardSize := 0
	for i, b := range blobs {
		if b.IsCoding() || !b.SizeValid() {
			return nil, fmt.Errorf("erasure: encode: %w: position %d is not a data blob of valid size",
				ErrCorruptShard, i)
		}
		shardSize = max(shardSize, b.DataSize())
	}

	header := types.CodingHeader{
		DataCount:   len(blobs),
		ParityCount: parity,
		StartIndex:  startIndex,
		ShardSize:   shardSize,
		Encoded:     true,
	}.WithSetIndex(setIndex)

	shards := make([][]byte, len(blobs)+parity)
	for i, b := range blobs {
		b.SetCodingHeader(header)
		shards[i] = b.Shard(packet.DataShard, shardSize)
	}

	parent := blobs[0].Parent()
	coding := make([]*packet.Blob, parity)
	for i := range coding {
		coding[i] = packet.NewCodingBlob(slot, parent, uint64(i), header)
		// Aliases the coding blob payload, so encoding writes parity in place
		shards[len(blobs)+i] = coding[i].Shard(packet.CodingShard, shardSize)
	}

	if err := rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("erasure: encode shards: %w", err)
	}

	return coding, nil
}

// EncodeShared is Encode over shared blobs. The exclusive lock of every blob is
// taken in slice order for the duration of the call; callers must not hold any
// of them.
func EncodeShared(slot, setIndex, startIndex uint64, shared []*packet.SharedBlob, parity int) ([]*packet.SharedBlob, error) {
	blobs, release, err := lockAll(shared)
	if err != nil {
		return nil, err
	}
	defer release()

	coding, err := Encode(slot, setIndex, startIndex, blobs, parity)
	if err != nil {
		return nil, err
	}

	return packet.ShareAll(coding), nil
}

// Decode reconstructs the missing positions of one erasure set.
//
// blobs holds every position of the set, data first then coding, and present
// marks which of them hold valid blobs. The session header comes from the last
// blob; when that position is absent the last present blob with an encoded
// header is used. Slot and parent come from the first present blob.
//
// Decode returns recovered data blobs and recovered coding blobs in ascending
// position order. Positions already present are neither returned nor modified.
func Decode(blobs []*packet.Blob, present []bool) ([]*packet.Blob, []*packet.Blob, error) {
	if len(blobs) == 0 {
		return nil, nil, fmt.Errorf("erasure: decode: %w", ErrTooFewShards)
	}
	if len(present) != len(blobs) {
		return nil, nil, fmt.Errorf("erasure: decode: %w: %d blobs, %d presence flags",
			ErrShardCountMismatch, len(blobs), len(present))
	}

	info, ok := sessionInfo(blobs, present)
	if !ok {
		return nil, nil, fmt.Errorf("erasure: decode: %w", ErrNoSessionInfo)
	}
	if info.ShardSize == 0 {
		return nil, nil, fmt.Errorf("erasure: decode: %w", ErrZeroShardSize)
	}
	if info.ShardSize > packet.BlobSize {
		return nil, nil, fmt.Errorf("erasure: decode: %w: shard size %d exceeds %d",
			ErrCorruptShard, info.ShardSize, packet.BlobSize)
	}

	total := info.DataCount + info.ParityCount
	if len(blobs) != total {
		return nil, nil, fmt.Errorf("erasure: decode: %w: expected %d blobs (%d+%d), got %d",
			ErrShardCountMismatch, total, info.DataCount, info.ParityCount, len(blobs))
	}

	rs, err := newCoder(info.DataCount, info.ParityCount)
	if err != nil {
		return nil, nil, err
	}

	shards := make([][]byte, total)
	missing := 0
	for i, b := range blobs {
		if !present[i] {
			missing++
			continue
		}
		kind := packet.DataShard
		if i >= info.DataCount {
			kind = packet.CodingShard
		}
		shards[i] = b.Shard(kind, info.ShardSize)
	}

	if missing > info.ParityCount {
		return nil, nil, fmt.Errorf("erasure: decode: %w: %d missing, parity %d",
			ErrInsufficientShards, missing, info.ParityCount)
	}

	if err := rs.Reconstruct(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return nil, nil, fmt.Errorf("erasure: reconstruct: %w: %w", ErrInsufficientShards, err)
		}
		return nil, nil, fmt.Errorf("erasure: reconstruct: %w", err)
	}

	slot, parent := origin(blobs, present)

	var recoveredData, recoveredCoding []*packet.Blob
	for i := range shards {
		if present[i] {
			continue
		}

		if i < info.DataCount {
			blob := packet.NewBlob(shards[i])
			dataSize := blob.DataSize()
			if !blob.SizeValid() || dataSize < packet.BlobHeaderSize || dataSize > info.ShardSize {
				return nil, nil, fmt.Errorf("erasure: decode: %w: position %d declares an invalid size, shard size %d",
					ErrCorruptShard, i, info.ShardSize)
			}
			blob.Data = blob.Data[:dataSize]
			blob.Meta.Size = dataSize

			slog.Debug("Reconstructed data blob",
				"slot", blob.Slot(), "index", blob.Index(), "position", i, "size", blob.Size())
			recoveredData = append(recoveredData, blob)
			continue
		}

		index := uint64(i - info.DataCount)
		blob := packet.NewCodingBlob(slot, parent, index, info)
		copy(blob.Shard(packet.CodingShard, info.ShardSize), shards[i])

		slog.Debug("Reconstructed coding blob", "slot", slot, "index", index, "position", i)
		recoveredCoding = append(recoveredCoding, blob)
	}

	return recoveredData, recoveredCoding, nil
}

// DecodeShared is Decode over shared blobs, holding the exclusive lock of every
// blob in slice order for the duration of the call
func DecodeShared(shared []*packet.SharedBlob, present []bool) ([]*packet.Blob, []*packet.Blob, error) {
	blobs, release, err := lockAll(shared)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	return Decode(blobs, present)
}

// sessionInfo reads the coding header from the last blob, falling back to the
// last present blob that carries an encoded one
func sessionInfo(blobs []*packet.Blob, present []bool) (types.CodingHeader, bool) {
	last := len(blobs) - 1
	if present[last] {
		if h := blobs[last].CodingHeader(); h.Encoded {
			return h, true
		}
	}

	for i := last; i >= 0; i-- {
		if !present[i] {
			continue
		}
		if h := blobs[i].CodingHeader(); h.Encoded {
			return h, true
		}
	}

	return types.CodingHeader{}, false
}

// origin returns slot and parent of the first present blob
func origin(blobs []*packet.Blob, present []bool) (uint64, uint64) {
	for i, b := range blobs {
		if present[i] {
			return b.Slot(), b.Parent()
		}
	}
	return blobs[0].Slot(), blobs[0].Parent()
}

// lockAll checks out every shared blob exclusively, in slice order
func lockAll(shared []*packet.SharedBlob) ([]*packet.Blob, func(), error) {
	seen := make(map[*packet.SharedBlob]struct{}, len(shared))
	for i, s := range shared {
		if _, dup := seen[s]; dup {
			return nil, nil, fmt.Errorf("erasure: %w at position %d", ErrDuplicateShard, i)
		}
		seen[s] = struct{}{}
	}

	blobs := make([]*packet.Blob, len(shared))
	for i, s := range shared {
		blobs[i] = s.Lock()
	}

	release := func() {
		for i := len(shared) - 1; i >= 0; i-- {
			shared[i].Unlock()
		}
	}

	return blobs, release, nil
}
