package types

import (
	"fmt"
	"math"
	"slices"

	"github.com/bits-and-blooms/bitset"
)

const (
	// UnknownIndex marks a SlotMeta whose last blob has not been observed
	UnknownIndex uint64 = math.MaxUint64
	// UnknownSlot marks a SlotMeta whose parent has not been linked
	UnknownSlot uint64 = math.MaxUint64
)

// Erasure set geometry
const (
	NumData        = 8
	NumCoding      = 8
	ErasureSetSize = NumData + NumCoding
	// MaxSetSize bounds the bit positions tracked per set. Presence masks are
	// resizable, so this is the only limit on set size.
	MaxSetSize = 255
)

// SlotMeta tracks blob arrival for one slot (the "meta" column)
type SlotMeta struct {
	// Slot height above genesis; genesis is slot 0
	Slot uint64 `json:"slot"`
	// Number of contiguous blobs held starting from index 0
	Consumed uint64 `json:"consumed"`
	// One past the highest index seen. Holes live in [Consumed, Received).
	Received uint64 `json:"received"`
	// Index of the blob flagged last-in-slot, UnknownIndex until seen
	LastIndex uint64 `json:"last_index"`
	// Slot this one extends, UnknownSlot until linked
	ParentSlot uint64 `json:"parent_slot"`
	// Child slots declaring this one as parent
	NextSlots []uint64 `json:"next_slots"`
	// True once this slot and every ancestor up to genesis are full.
	// Genesis is connected from the start.
	IsConnected bool `json:"is_connected"`
}

// NewSlotMeta creates the metadata for a slot seen for the first time
func NewSlotMeta(slot, parentSlot uint64) *SlotMeta {
	return &SlotMeta{
		Slot:        slot,
		ParentSlot:  parentSlot,
		LastIndex:   UnknownIndex,
		NextSlots:   []uint64{},
		IsConnected: slot == 0,
	}
}

// IsFull reports whether every blob up to the last one has been consumed.
// A full slot with zero blobs is not possible.
func (s *SlotMeta) IsFull() bool {
	if s.LastIndex == UnknownIndex {
		return false
	}
	return s.Consumed == s.LastIndex+1
}

// IsParentSet reports whether the parent slot is known
func (s *SlotMeta) IsParentSet() bool {
	return s.ParentSlot != UnknownSlot
}

// AddNextSlot records a child slot. It returns false if already present.
func (s *SlotMeta) AddNextSlot(slot uint64) bool {
	if slices.Contains(s.NextSlots, slot) {
		return false
	}
	s.NextSlots = append(s.NextSlots, slot)
	return true
}

// AnomalyKind classifies a SlotMeta invariant violation
type AnomalyKind string

const (
	AnomalyConsumedPastLast     AnomalyKind = "consumed_past_last_index"
	AnomalyConsumedPastReceived AnomalyKind = "consumed_past_received"
)

// Anomaly is a diagnostic produced by Diagnose
type Anomaly struct {
	Kind    AnomalyKind `json:"kind"`
	Slot    uint64      `json:"slot"`
	Message string      `json:"message"`
}

// Diagnose checks invariants that should never be violated. Violations are
// reported to the caller instead of failing queries like IsFull.
func (s *SlotMeta) Diagnose() []Anomaly {
	var anomalies []Anomaly

	if s.LastIndex != UnknownIndex && s.Consumed > s.LastIndex+1 {
		anomalies = append(anomalies, Anomaly{
			Kind: AnomalyConsumedPastLast,
			Slot: s.Slot,
			Message: fmt.Sprintf("observed a slot meta with consumed: %d > last_index + 1: %d",
				s.Consumed, s.LastIndex+1),
		})
	}

	if s.Consumed > s.Received {
		anomalies = append(anomalies, Anomaly{
			Kind:    AnomalyConsumedPastReceived,
			Slot:    s.Slot,
			Message: fmt.Sprintf("observed a slot meta with consumed: %d > received: %d", s.Consumed, s.Received),
		})
	}

	return anomalies
}

// StatusKind is the recovery eligibility of an erasure set
type StatusKind string

const (
	StatusAmbiguous  StatusKind = "ambiguous"
	StatusCanRecover StatusKind = "can_recover"
	StatusDataFull   StatusKind = "data_full"
	StatusStillNeed  StatusKind = "still_need"
)

// ErasureStatus is the result of ErasureMeta.Status. Need is only set for
// StatusStillNeed and counts the shards (of either kind) that must still arrive.
type ErasureStatus struct {
	Kind StatusKind `json:"kind"`
	Need int        `json:"need,omitempty"`
}

func (s ErasureStatus) String() string {
	if s.Kind == StatusStillNeed {
		return fmt.Sprintf("%s(%d)", s.Kind, s.Need)
	}
	return string(s.Kind)
}

// ErasureMeta tracks which shards of one erasure set are present (the "erasure" column)
type ErasureMeta struct {
	// Session information for recovery
	Header CodingHeader `json:"header"`
	// Presence of data shards by offset from StartIndex
	Data *bitset.BitSet `json:"data"`
	// Presence of coding shards by parity position
	Coding *bitset.BitSet `json:"coding"`
}

// NewErasureMeta creates an empty meta for a set whose session is not yet known
func NewErasureMeta(setIndex, startIndex uint64) *ErasureMeta {
	return &ErasureMeta{
		Header: CodingHeader{StartIndex: startIndex}.WithSetIndex(setIndex),
		Data:   bitset.New(MaxSetSize),
		Coding: bitset.New(MaxSetSize),
	}
}

// ErasureMetaFromHeader creates an empty meta with an established session
func ErasureMetaFromHeader(header CodingHeader) *ErasureMeta {
	return &ErasureMeta{
		Header: header,
		Data:   bitset.New(MaxSetSize),
		Coding: bitset.New(MaxSetSize),
	}
}

// SessionInfo returns the coding session header of the set
func (e *ErasureMeta) SessionInfo() CodingHeader {
	return e.Header
}

// SetSessionInfo replaces the coding session header
func (e *ErasureMeta) SetSessionInfo(header CodingHeader) {
	e.Header = header
}

// Status classifies the set. The check order matters: a set that is both
// recoverable and missing data reports CanRecover, never DataFull.
func (e *ErasureMeta) Status() ErasureStatus {
	h := e.Header
	if !h.Encoded {
		return ErasureStatus{Kind: StatusAmbiguous}
	}

	dataMissing := max(h.DataCount-e.NumData(), 0)
	codingMissing := max(h.ParityCount-e.NumCoding(), 0)

	switch {
	case dataMissing > 0 && dataMissing+codingMissing <= h.ParityCount:
		// Unknown shard geometry cannot be reconstructed
		if h.ShardSize == 0 {
			return ErasureStatus{Kind: StatusAmbiguous}
		}
		return ErasureStatus{Kind: StatusCanRecover}
	case dataMissing == 0:
		return ErasureStatus{Kind: StatusDataFull}
	default:
		return ErasureStatus{Kind: StatusStillNeed, Need: dataMissing + codingMissing - h.ParityCount}
	}
}

// NumData returns the number of data shards present
func (e *ErasureMeta) NumData() int {
	limit := uint(MaxSetSize)
	if e.Header.Encoded {
		limit = uint(e.Header.DataCount)
	}
	return countBits(e.Data, limit)
}

// NumCoding returns the number of coding shards present
func (e *ErasureMeta) NumCoding() int {
	limit := uint(MaxSetSize)
	if e.Header.Encoded {
		limit = uint(e.Header.ParityCount)
	}
	return countBits(e.Coding, limit)
}

// IsDataPresent reports presence of the data blob with the given global index
func (e *ErasureMeta) IsDataPresent(index uint64) bool {
	pos, ok := e.DataIndexInSet(index)
	if !ok {
		return false
	}
	return testBit(e.Data, pos)
}

// SetDataPresent toggles the data bit for a global blob index. Indexes before
// the set start or past MaxSetSize are ignored.
func (e *ErasureMeta) SetDataPresent(index uint64, present bool) {
	pos, ok := e.DataIndexInSet(index)
	if !ok || pos >= MaxSetSize {
		return
	}
	if e.Data == nil {
		e.Data = bitset.New(MaxSetSize)
	}
	if present {
		e.Data.Set(uint(pos))
	} else {
		e.Data.Clear(uint(pos))
	}
}

// SetDataMulti applies SetDataPresent to every index. Each toggle is
// independent and idempotent.
func (e *ErasureMeta) SetDataMulti(indexes []uint64, present bool) {
	for _, index := range indexes {
		e.SetDataPresent(index, present)
	}
}

// IsCodingPresent reports presence of the coding blob at parity position index
func (e *ErasureMeta) IsCodingPresent(index uint64) bool {
	return testBit(e.Coding, index)
}

// SetCodingPresent toggles the coding bit. Coding indexes are parity
// positions local to the set, 0 through ParityCount-1.
func (e *ErasureMeta) SetCodingPresent(index uint64, present bool) {
	if index >= MaxSetSize {
		return
	}
	if e.Coding == nil {
		e.Coding = bitset.New(MaxSetSize)
	}
	if present {
		e.Coding.Set(uint(index))
	} else {
		e.Coding.Clear(uint(index))
	}
}

// SetCodingMulti applies SetCodingPresent to every index
func (e *ErasureMeta) SetCodingMulti(indexes []uint64, present bool) {
	for _, index := range indexes {
		e.SetCodingPresent(index, present)
	}
}

// DataIndexInSet translates a global data index into its offset in the set.
// ok is false for indexes before the set start.
func (e *ErasureMeta) DataIndexInSet(index uint64) (pos uint64, ok bool) {
	if index < e.Header.StartIndex {
		return 0, false
	}
	return index - e.Header.StartIndex, true
}

// CodingIndexInSet translates a parity position into its position among all
// shards of the set, data first.
func (e *ErasureMeta) CodingIndexInSet(index uint64) uint64 {
	return index + uint64(e.Header.DataCount)
}

// SetIndex returns the set identifier, if known
func (e *ErasureMeta) SetIndex() (uint64, bool) {
	return e.Header.SetIndex, e.Header.HasSetIndex
}

// StartIndex returns the global index of the first data blob in the set
func (e *ErasureMeta) StartIndex() uint64 {
	return e.Header.StartIndex
}

// EndIndexes returns (data_end, coding_end): data blobs of the set have global
// indexes in [StartIndex, data_end), coding blobs parity positions in [0, coding_end).
func (e *ErasureMeta) EndIndexes() (uint64, uint64) {
	return e.Header.StartIndex + uint64(e.Header.DataCount), uint64(e.Header.ParityCount)
}

// Size returns the shard size of the session
func (e *ErasureMeta) Size() int {
	return e.Header.ShardSize
}

// SetSize sets the shard size of the session
func (e *ErasureMeta) SetSize(size int) {
	e.Header.ShardSize = size
}

// Clone returns a deep copy
func (e *ErasureMeta) Clone() *ErasureMeta {
	c := &ErasureMeta{Header: e.Header}
	if e.Data != nil {
		c.Data = e.Data.Clone()
	}
	if e.Coding != nil {
		c.Coding = e.Coding.Clone()
	}
	return c
}

// IndexRange returns the indexes [start, end)
func IndexRange(start, end uint64) []uint64 {
	if end <= start {
		return nil
	}
	out := make([]uint64, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}

func testBit(b *bitset.BitSet, pos uint64) bool {
	if b == nil || pos >= MaxSetSize {
		return false
	}
	return b.Test(uint(pos))
}

func countBits(b *bitset.BitSet, limit uint) int {
	if b == nil {
		return 0
	}
	if limit >= b.Len() {
		return int(b.Count())
	}
	n := 0
	for i, ok := b.NextSet(0); ok && i < limit; i, ok = b.NextSet(i + 1) {
		n++
	}
	return n
}
