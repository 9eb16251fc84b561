// Package packet implements the wire representation of ledger blobs.
//
// A blob is transport metadata plus a data region holding a fixed-size header
// followed by the payload:
//
//	+--------+-------------------------------------------------------------+
//	| meta   | data                                                        |
//	| size   | parent | slot | index | flags | size | coding hdr | payload |
//	+--------+-------------------------------------------------------------+
//	         |<============ data shard region for the codec ==============>|
//	                                                    |<= coding shard =>|
//
// The codec treats the whole data region of a data blob as its shard, so a
// reconstructed data blob comes back with its header intact. Coding blobs carry
// parity bytes in their payload.
package packet

import (
	"encoding/binary"

	"github.com/skshohagmiah/ledgerdb/pkg/types"
)

const (
	parentOffset       = 0
	slotOffset         = parentOffset + 8
	indexOffset        = slotOffset + 8
	flagsOffset        = indexOffset + 8
	sizeOffset         = flagsOffset + 4
	codingHeaderOffset = sizeOffset + 8

	// BlobHeaderSize is the length of the header at the start of every blob
	BlobHeaderSize = codingHeaderOffset + types.CodingHeaderSize

	// BlobSize is the maximum wire length of a data blob
	BlobSize = 64 * 1024
	// BlobDataSize is the maximum payload of a data blob
	BlobDataSize = BlobSize - BlobHeaderSize
)

// Blob flags
const (
	FlagCoding uint32 = 1 << iota
	FlagLastInSlot
)

// ShardKind tells the codec which region of a blob it operates on
type ShardKind int

const (
	DataShard ShardKind = iota
	CodingShard
)

func (k ShardKind) String() string {
	if k == CodingShard {
		return "coding"
	}
	return "data"
}

// Meta is transport-local information about a blob
type Meta struct {
	// Declared length of the wire bytes in Data
	Size int `json:"size"`
}

// Blob is one unit of ledger data
type Blob struct {
	Meta Meta
	Data []byte
}

// NewBlob copies wire bytes into a new blob
func NewBlob(wire []byte) *Blob {
	b := &Blob{Data: make([]byte, max(len(wire), BlobHeaderSize))}
	copy(b.Data, wire)
	b.Meta.Size = len(wire)
	return b
}

// NewDataBlob builds a data blob carrying payload
func NewDataBlob(slot, parent, index uint64, payload []byte) *Blob {
	b := &Blob{Data: make([]byte, BlobHeaderSize+len(payload))}
	b.SetSlot(slot)
	b.SetParent(parent)
	b.SetIndex(index)
	b.SetPayload(payload)
	return b
}

// NewCodingBlob builds a coding blob with a zeroed payload of shardSize bytes
func NewCodingBlob(slot, parent, index uint64, header types.CodingHeader) *Blob {
	b := &Blob{Data: make([]byte, BlobHeaderSize+header.ShardSize)}
	b.SetSlot(slot)
	b.SetParent(parent)
	b.SetIndex(index)
	b.SetCoding()
	b.SetSize(header.ShardSize)
	b.SetCodingHeader(header)
	return b
}

func (b *Blob) Parent() uint64 {
	return b.getUint64(parentOffset)
}

func (b *Blob) SetParent(parent uint64) {
	b.putUint64(parentOffset, parent)
}

func (b *Blob) Slot() uint64 {
	return b.getUint64(slotOffset)
}

func (b *Blob) SetSlot(slot uint64) {
	b.putUint64(slotOffset, slot)
}

// Index is the position in the slot for data blobs and the parity position
// within the erasure set for coding blobs
func (b *Blob) Index() uint64 {
	return b.getUint64(indexOffset)
}

func (b *Blob) SetIndex(index uint64) {
	b.putUint64(indexOffset, index)
}

func (b *Blob) Flags() uint32 {
	if len(b.Data) < BlobHeaderSize {
		return 0
	}
	return binary.LittleEndian.Uint32(b.Data[flagsOffset:])
}

func (b *Blob) setFlags(flags uint32) {
	b.grow(BlobHeaderSize)
	binary.LittleEndian.PutUint32(b.Data[flagsOffset:], flags)
}

func (b *Blob) IsCoding() bool {
	return b.Flags()&FlagCoding != 0
}

func (b *Blob) SetCoding() {
	b.setFlags(b.Flags() | FlagCoding)
}

func (b *Blob) IsLastInSlot() bool {
	return b.Flags()&FlagLastInSlot != 0
}

func (b *Blob) SetLastInSlot() {
	b.setFlags(b.Flags() | FlagLastInSlot)
}

// Kind returns the shard kind this blob contributes to an erasure set
func (b *Blob) Kind() ShardKind {
	if b.IsCoding() {
		return CodingShard
	}
	return DataShard
}

// Size is the payload length recorded in the header. A length the blob kind
// cannot hold reads as 0; SizeValid reports it.
func (b *Blob) Size() int {
	if !b.SizeValid() {
		return 0
	}
	return int(b.getUint64(sizeOffset))
}

// SizeValid reports whether the recorded payload length fits the blob kind:
// BlobDataSize for data blobs, BlobSize for coding blobs
func (b *Blob) SizeValid() bool {
	limit := uint64(BlobDataSize)
	if b.IsCoding() {
		limit = BlobSize
	}
	return b.getUint64(sizeOffset) <= limit
}

// SetSize records the payload length and updates the declared wire size
func (b *Blob) SetSize(size int) {
	b.putUint64(sizeOffset, uint64(size))
	b.Meta.Size = BlobHeaderSize + size
}

// DataSize is the wire length of header plus payload
func (b *Blob) DataSize() int {
	return BlobHeaderSize + b.Size()
}

// Bytes returns the wire bytes of the blob
func (b *Blob) Bytes() []byte {
	return b.Data[:b.end()]
}

// Payload returns the bytes following the header
func (b *Blob) Payload() []byte {
	if len(b.Data) < BlobHeaderSize {
		return nil
	}
	return b.Data[BlobHeaderSize:max(b.end(), BlobHeaderSize)]
}

// SetPayload replaces the payload and its recorded size
func (b *Blob) SetPayload(payload []byte) {
	b.grow(BlobHeaderSize + len(payload))
	copy(b.Data[BlobHeaderSize:], payload)
	b.SetSize(len(payload))
}

// CodingHeader reads the embedded coding session header
func (b *Blob) CodingHeader() types.CodingHeader {
	if len(b.Data) < BlobHeaderSize {
		return types.CodingHeader{}
	}
	h, _ := types.UnmarshalCodingHeader(b.Data[codingHeaderOffset:BlobHeaderSize])
	return h
}

// SetCodingHeader embeds the coding session header at its fixed offset
func (b *Blob) SetCodingHeader(h types.CodingHeader) {
	b.grow(BlobHeaderSize)
	_ = h.MarshalTo(b.Data[codingHeaderOffset:BlobHeaderSize])
}

// Shard returns the shardSize-byte region the codec works on for the given
// kind: the whole data region for data shards, the payload for coding shards.
// Bytes past the declared size never enter a shard. The returned slice aliases
// the blob when it holds enough valid bytes; otherwise it is a zero-padded copy.
func (b *Blob) Shard(kind ShardKind, shardSize int) []byte {
	valid := b.Bytes()
	if kind == CodingShard {
		valid = b.Payload()
	}

	if len(valid) >= shardSize {
		return valid[:shardSize]
	}

	shard := make([]byte, shardSize)
	copy(shard, valid)
	return shard
}

// Clone returns a deep copy
func (b *Blob) Clone() *Blob {
	c := &Blob{Meta: b.Meta, Data: make([]byte, len(b.Data))}
	copy(c.Data, b.Data)
	return c
}

// IndexBlobs stamps consecutive indexes starting at startIndex, along with the
// slot and parent, on a run of data blobs
func IndexBlobs(blobs []*Blob, startIndex, slot, parent uint64) {
	for i, b := range blobs {
		b.SetIndex(startIndex + uint64(i))
		b.SetSlot(slot)
		b.SetParent(parent)
	}
}

func (b *Blob) getUint64(offset int) uint64 {
	if len(b.Data) < offset+8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b.Data[offset:])
}

func (b *Blob) putUint64(offset int, v uint64) {
	b.grow(BlobHeaderSize)
	binary.LittleEndian.PutUint64(b.Data[offset:], v)
}

// end is the declared wire length clamped to the buffer
func (b *Blob) end() int {
	end := b.DataSize()
	if end < 0 || end > len(b.Data) {
		return len(b.Data)
	}
	return end
}

// grow extends Data with zeros up to n bytes
func (b *Blob) grow(n int) {
	if len(b.Data) >= n {
		return
	}
	b.Data = append(b.Data, make([]byte, n-len(b.Data))...)
}
