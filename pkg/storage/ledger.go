package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/skshohagmiah/ledgerdb/pkg/metrics"
	"github.com/skshohagmiah/ledgerdb/pkg/packet"
	"github.com/skshohagmiah/ledgerdb/pkg/types"
)

// Column prefixes
const (
	metaPrefix    = "meta:"
	erasurePrefix = "erasure:"
	dataPrefix    = "data:"
	codingPrefix  = "coding:"
)

// Key format: "meta:<slot>"
func metaKey(slot uint64) []byte {
	return fmt.Appendf(nil, "%s%016x", metaPrefix, slot)
}

// Key format: "erasure:<slot>:<set>"
func erasureKey(slot, setIndex uint64) []byte {
	return fmt.Appendf(nil, "%s%016x:%016x", erasurePrefix, slot, setIndex)
}

// Key format: "data:<slot>:<index>"
func dataKey(slot, index uint64) []byte {
	return fmt.Appendf(nil, "%s%016x:%016x", dataPrefix, slot, index)
}

// Key format: "coding:<slot>:<set>:<index>"
func codingKey(slot, setIndex, index uint64) []byte {
	return fmt.Appendf(nil, "%s%016x:%016x:%016x", codingPrefix, slot, setIndex, index)
}

// parseErasureKey recovers slot and set index from an erasure column key
func parseErasureKey(key []byte) (uint64, uint64, error) {
	rest, ok := strings.CutPrefix(string(key), erasurePrefix)
	if !ok {
		return 0, 0, fmt.Errorf("not an erasure key: %q", key)
	}

	slotHex, setHex, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed erasure key: %q", key)
	}

	slot, err := strconv.ParseUint(slotHex, 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed erasure key %q: %w", key, err)
	}
	setIndex, err := strconv.ParseUint(setHex, 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed erasure key %q: %w", key, err)
	}

	return slot, setIndex, nil
}

// LedgerStore handles the ledger columns on top of a KV store
type LedgerStore struct {
	kv KV
}

// NewLedgerStore wraps an open KV store
func NewLedgerStore(kv KV) *LedgerStore {
	return &LedgerStore{kv: kv}
}

// KV returns the underlying store
func (s *LedgerStore) KV() KV {
	return s.kv
}

// Close closes the underlying store
func (s *LedgerStore) Close() error {
	return s.kv.Close()
}

// RunGarbageCollection reclaims space in the underlying store
func (s *LedgerStore) RunGarbageCollection() error {
	start := time.Now()
	err := s.kv.RunGarbageCollection()
	observe("gc", start)
	count("gc", err)

	return err
}

// ===== DATA BLOBS =====

// PutBlob stores the wire bytes of a data blob under its slot and index
func (s *LedgerStore) PutBlob(b *packet.Blob) error {
	defer observe("put_blob", time.Now())
	return s.kv.Put(dataKey(b.Slot(), b.Index()), b.Bytes())
}

// GetBlob retrieves a data blob
func (s *LedgerStore) GetBlob(slot, index uint64) (*packet.Blob, error) {
	defer observe("get_blob", time.Now())

	data, err := s.kv.Get(dataKey(slot, index))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("blob not found: %d/%d: %w", slot, index, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return packet.NewBlob(data), nil
}

// HasBlob reports whether a data blob is stored
func (s *LedgerStore) HasBlob(slot, index uint64) (bool, error) {
	return s.kv.Has(dataKey(slot, index))
}

// ===== CODING BLOBS =====

// PutCodingBlob stores a coding blob under its slot, set and parity position
func (s *LedgerStore) PutCodingBlob(setIndex uint64, b *packet.Blob) error {
	defer observe("put_coding_blob", time.Now())
	return s.kv.Put(codingKey(b.Slot(), setIndex, b.Index()), b.Bytes())
}

// GetCodingBlob retrieves a coding blob
func (s *LedgerStore) GetCodingBlob(slot, setIndex, index uint64) (*packet.Blob, error) {
	defer observe("get_coding_blob", time.Now())

	data, err := s.kv.Get(codingKey(slot, setIndex, index))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("coding blob not found: %d/%d/%d: %w", slot, setIndex, index, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return packet.NewBlob(data), nil
}

// HasCodingBlob reports whether a coding blob is stored
func (s *LedgerStore) HasCodingBlob(slot, setIndex, index uint64) (bool, error) {
	return s.kv.Has(codingKey(slot, setIndex, index))
}

// ===== SLOT METAS =====

// GetSlotMeta retrieves the meta of a slot
func (s *LedgerStore) GetSlotMeta(slot uint64) (*types.SlotMeta, error) {
	defer observe("get_slot_meta", time.Now())

	data, err := s.kv.Get(metaKey(slot))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("slot meta not found: %d: %w", slot, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var meta types.SlotMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode slot meta %d: %w", slot, err)
	}

	return &meta, nil
}

// PutSlotMeta saves the meta of a slot
func (s *LedgerStore) PutSlotMeta(meta *types.SlotMeta) error {
	defer observe("put_slot_meta", time.Now())

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	return s.kv.Put(metaKey(meta.Slot), data)
}

// ForEachSlotMeta visits slot metas in ascending slot order until fn returns false
func (s *LedgerStore) ForEachSlotMeta(fn func(meta *types.SlotMeta) bool) error {
	var decodeErr error

	err := s.kv.Iterate([]byte(metaPrefix), func(key, value []byte) bool {
		var meta types.SlotMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			decodeErr = fmt.Errorf("decode slot meta %s: %w", key, err)
			return false
		}
		return fn(&meta)
	})

	if err != nil {
		return err
	}
	return decodeErr
}

// ===== ERASURE METAS =====

// GetErasureMeta retrieves the meta of one erasure set
func (s *LedgerStore) GetErasureMeta(slot, setIndex uint64) (*types.ErasureMeta, error) {
	defer observe("get_erasure_meta", time.Now())

	data, err := s.kv.Get(erasureKey(slot, setIndex))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("erasure meta not found: %d/%d: %w", slot, setIndex, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var meta types.ErasureMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode erasure meta %d/%d: %w", slot, setIndex, err)
	}

	return &meta, nil
}

// PutErasureMeta saves the meta of one erasure set
func (s *LedgerStore) PutErasureMeta(slot, setIndex uint64, meta *types.ErasureMeta) error {
	defer observe("put_erasure_meta", time.Now())

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	return s.kv.Put(erasureKey(slot, setIndex), data)
}

// ForEachErasureMeta visits erasure metas in (slot, set) order until fn returns false
func (s *LedgerStore) ForEachErasureMeta(fn func(slot, setIndex uint64, meta *types.ErasureMeta) bool) error {
	return s.forEachErasureMeta([]byte(erasurePrefix), fn)
}

// ForEachErasureMetaInSlot visits the erasure metas of one slot in set order
func (s *LedgerStore) ForEachErasureMetaInSlot(slot uint64, fn func(setIndex uint64, meta *types.ErasureMeta) bool) error {
	prefix := fmt.Appendf(nil, "%s%016x:", erasurePrefix, slot)
	return s.forEachErasureMeta(prefix, func(_, setIndex uint64, meta *types.ErasureMeta) bool {
		return fn(setIndex, meta)
	})
}

func (s *LedgerStore) forEachErasureMeta(prefix []byte, fn func(slot, setIndex uint64, meta *types.ErasureMeta) bool) error {
	var decodeErr error

	err := s.kv.Iterate(prefix, func(key, value []byte) bool {
		slot, setIndex, err := parseErasureKey(key)
		if err != nil {
			decodeErr = err
			return false
		}

		var meta types.ErasureMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			decodeErr = fmt.Errorf("decode erasure meta %s: %w", key, err)
			return false
		}

		return fn(slot, setIndex, &meta)
	})

	if err != nil {
		return err
	}
	return decodeErr
}

// ===== BATCHES =====

// WriteBatch collects typed ledger writes for one atomic commit
type WriteBatch struct {
	batch *Batch
	err   error
}

// NewBatch starts an empty write batch
func (s *LedgerStore) NewBatch() *WriteBatch {
	return &WriteBatch{batch: NewBatch()}
}

func (w *WriteBatch) PutBlob(b *packet.Blob) {
	w.batch.Put(dataKey(b.Slot(), b.Index()), b.Bytes())
}

func (w *WriteBatch) PutCodingBlob(setIndex uint64, b *packet.Blob) {
	w.batch.Put(codingKey(b.Slot(), setIndex, b.Index()), b.Bytes())
}

func (w *WriteBatch) PutSlotMeta(meta *types.SlotMeta) {
	data, err := json.Marshal(meta)
	if err != nil {
		w.err = errors.Join(w.err, err)
		return
	}
	w.batch.Put(metaKey(meta.Slot), data)
}

func (w *WriteBatch) PutErasureMeta(slot, setIndex uint64, meta *types.ErasureMeta) {
	data, err := json.Marshal(meta)
	if err != nil {
		w.err = errors.Join(w.err, err)
		return
	}
	w.batch.Put(erasureKey(slot, setIndex), data)
}

// Len is the number of queued writes
func (w *WriteBatch) Len() int {
	return w.batch.Len()
}

// Commit applies the batch atomically. Nothing is written if any queued
// value failed to encode.
func (s *LedgerStore) Commit(w *WriteBatch) error {
	if w.err != nil {
		return fmt.Errorf("batch: %w", w.err)
	}
	if w.batch.Len() == 0 {
		return nil
	}

	start := time.Now()
	err := s.kv.Write(w.batch)
	observe("commit", start)
	count("commit", err)

	return err
}

func observe(operation string, start time.Time) {
	metrics.StorageOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func count(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
}
