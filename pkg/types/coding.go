package types

import (
	"encoding/binary"
	"fmt"
)

// CodingHeaderSize is the fixed encoded length of a CodingHeader
const CodingHeaderSize = 4 + 4 + 8 + 1 + 8 + 4 + 1

// CodingHeader carries the coding session parameters of an erasure set.
// It is embedded in every blob of a coded set so any surviving blob yields the
// full session geometry.
type CodingHeader struct {
	DataCount   int    `json:"data_count"`
	ParityCount int    `json:"parity_count"`
	StartIndex  uint64 `json:"start_index"`
	HasSetIndex bool   `json:"has_set_index"`
	SetIndex    uint64 `json:"set_index"`
	ShardSize   int    `json:"shard_size"`
	Encoded     bool   `json:"encoded"`
}

// MarshalTo writes the header into buf using the fixed little-endian layout:
//
//	data_count u32 | parity_count u32 | start_index u64 | has_set_index u8 |
//	set_index u64 | shard_size u32 | encoded u8
func (h CodingHeader) MarshalTo(buf []byte) error {
	if len(buf) < CodingHeaderSize {
		return fmt.Errorf("coding header: buffer too short: %d < %d", len(buf), CodingHeaderSize)
	}

	offset := 0
	binary.LittleEndian.PutUint32(buf[offset:], uint32(h.DataCount))
	offset += 4
	binary.LittleEndian.PutUint32(buf[offset:], uint32(h.ParityCount))
	offset += 4
	binary.LittleEndian.PutUint64(buf[offset:], h.StartIndex)
	offset += 8
	buf[offset] = boolByte(h.HasSetIndex)
	offset++
	binary.LittleEndian.PutUint64(buf[offset:], h.SetIndex)
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], uint32(h.ShardSize))
	offset += 4
	buf[offset] = boolByte(h.Encoded)

	return nil
}

// UnmarshalCodingHeader decodes a header written by MarshalTo
func UnmarshalCodingHeader(buf []byte) (CodingHeader, error) {
	if len(buf) < CodingHeaderSize {
		return CodingHeader{}, fmt.Errorf("coding header: buffer too short: %d < %d", len(buf), CodingHeaderSize)
	}

	var h CodingHeader
	offset := 0
	h.DataCount = int(binary.LittleEndian.Uint32(buf[offset:]))
	offset += 4
	h.ParityCount = int(binary.LittleEndian.Uint32(buf[offset:]))
	offset += 4
	h.StartIndex = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	h.HasSetIndex = buf[offset] != 0
	offset++
	h.SetIndex = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8
	h.ShardSize = int(binary.LittleEndian.Uint32(buf[offset:]))
	offset += 4
	h.Encoded = buf[offset] != 0

	return h, nil
}

// WithSetIndex returns a copy of h identifying the given erasure set
func (h CodingHeader) WithSetIndex(setIndex uint64) CodingHeader {
	h.HasSetIndex = true
	h.SetIndex = setIndex
	return h
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
