package core

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/skshohagmiah/ledgerdb/pkg/erasure"
	"github.com/skshohagmiah/ledgerdb/pkg/metrics"
	"github.com/skshohagmiah/ledgerdb/pkg/packet"
	"github.com/skshohagmiah/ledgerdb/pkg/storage"
	"github.com/skshohagmiah/ledgerdb/pkg/types"
)

var (
	// ErrInvalidBlob is returned for blobs that cannot be placed in the ledger
	ErrInvalidBlob = errors.New("invalid blob")
	// ErrNotRecoverable is returned when an erasure set cannot be recovered yet
	ErrNotRecoverable = errors.New("erasure set not recoverable")
)

// Blocktree is the main coordinator for blob storage and recovery
type Blocktree struct {
	Config   *types.Config
	Store    *storage.LedgerStore
	Recovery *RecoveryWorker // Background erasure recovery

	mu        sync.Mutex // Serialises mutators
	stopGC    chan struct{}
	gcDone    sync.WaitGroup
	closeOnce sync.Once
}

// NewBlocktree opens the ledger store and starts background work
func NewBlocktree(config *types.Config) (*Blocktree, error) {
	if config == nil {
		config = types.DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := storage.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger store: %w", err)
	}

	bt := &Blocktree{
		Config: config,
		Store:  store,
		stopGC: make(chan struct{}),
	}

	// Start background garbage collection
	if config.GCInterval > 0 {
		bt.startBackgroundGC(config.GCInterval)
	}

	if config.RecoveryInterval > 0 {
		bt.Recovery = NewRecoveryWorker(bt, config.RecoveryInterval)
		bt.Recovery.Start()
	}

	return bt, nil
}

// startBackgroundGC starts periodic garbage collection of the store
func (bt *Blocktree) startBackgroundGC(interval time.Duration) {
	bt.gcDone.Add(1)
	go func() {
		defer bt.gcDone.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-bt.stopGC:
				return
			case <-ticker.C:
				if err := bt.Store.RunGarbageCollection(); err != nil {
					slog.Warn("Background GC failed", "error", err)
				} else {
					slog.Debug("Background GC completed successfully")
				}
			}
		}
	}()
}

// Close stops background work and closes the store
func (bt *Blocktree) Close() error {
	var err error

	bt.closeOnce.Do(func() {
		if bt.Recovery != nil {
			bt.Recovery.Stop()
		}
		close(bt.stopGC)
		bt.gcDone.Wait()

		// Wait for an in-flight mutation
		bt.mu.Lock()
		defer bt.mu.Unlock()

		if cerr := bt.Store.Close(); cerr != nil {
			err = fmt.Errorf("failed to close ledger store: %w", cerr)
		}
	})

	return err
}

// ===== INSERTION =====

// InsertDataBlobs stores data blobs and updates slot and erasure metadata.
// Blobs already stored are ignored. When RecoverOnInsert is set, every touched
// erasure set that became recoverable is recovered before returning.
func (bt *Blocktree) InsertDataBlobs(blobs []*packet.Blob) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	w := bt.newWriteSet()
	for _, blob := range blobs {
		if err := w.insertData(blob); err != nil {
			return err
		}
	}

	if err := w.flush(); err != nil {
		return err
	}

	return bt.recoverTouched(w)
}

// InsertCodingBlob stores one coding blob under its slot, set and parity position
func (bt *Blocktree) InsertCodingBlob(blob *packet.Blob) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	w := bt.newWriteSet()
	if err := w.insertCoding(blob); err != nil {
		return err
	}

	if err := w.flush(); err != nil {
		return err
	}

	return bt.recoverTouched(w)
}

// WriteSharedBlobs inserts shared blobs, routing each by its coding flag.
// Each handle is read-locked only while its blob is copied.
func (bt *Blocktree) WriteSharedBlobs(shared []*packet.SharedBlob) error {
	var data []*packet.Blob
	var coding []*packet.Blob

	for _, s := range shared {
		blob := s.Snapshot()
		if blob.IsCoding() {
			coding = append(coding, blob)
		} else {
			data = append(data, blob)
		}
	}

	if len(data) > 0 {
		if err := bt.InsertDataBlobs(data); err != nil {
			return err
		}
	}

	for _, blob := range coding {
		if err := bt.InsertCodingBlob(blob); err != nil {
			return err
		}
	}

	return nil
}

// ===== RECOVERY =====

// RecoverErasureSet reconstructs the missing blobs of one erasure set and
// writes them back through the insert path
func (bt *Blocktree) RecoverErasureSet(slot, setIndex uint64) (*types.RecoveryResult, error) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	return bt.recoverLocked(slot, setIndex)
}

// RecoverAll recovers every erasure set whose status is CanRecover. Failures
// of individual sets are logged and returned joined.
func (bt *Blocktree) RecoverAll() ([]types.RecoveryResult, error) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	var candidates []setKey
	err := bt.Store.ForEachErasureMeta(func(slot, setIndex uint64, meta *types.ErasureMeta) bool {
		if meta.Status().Kind == types.StatusCanRecover {
			candidates = append(candidates, setKey{slot, setIndex})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan erasure metas: %w", err)
	}

	var results []types.RecoveryResult
	var errs []error
	for _, key := range candidates {
		result, err := bt.recoverLocked(key.slot, key.setIndex)
		if err != nil {
			slog.Warn("Erasure set recovery failed", "slot", key.slot, "set", key.setIndex, "error", err)
			errs = append(errs, err)
			continue
		}
		results = append(results, *result)
	}

	return results, errors.Join(errs...)
}

// recoverTouched recovers the sets a write left recoverable
func (bt *Blocktree) recoverTouched(w *writeSet) error {
	if !bt.Config.RecoverOnInsert {
		return nil
	}

	for _, key := range w.touchedSets() {
		meta := w.sets[key]
		if meta.Status().Kind != types.StatusCanRecover {
			continue
		}

		if _, err := bt.recoverLocked(key.slot, key.setIndex); err != nil {
			// The blobs are stored; recovery is retried by the worker
			slog.Warn("Recovery on insert failed", "slot", key.slot, "set", key.setIndex, "error", err)
		}
	}

	return nil
}

func (bt *Blocktree) recoverLocked(slot, setIndex uint64) (*types.RecoveryResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecoveryDuration.Observe(time.Since(start).Seconds())
	}()

	meta, err := bt.Store.GetErasureMeta(slot, setIndex)
	if err != nil {
		return nil, err
	}

	status := meta.Status()
	if status.Kind != types.StatusCanRecover {
		metrics.RecoveryAttemptsTotal.WithLabelValues("skipped").Inc()
		return nil, fmt.Errorf("%w: slot %d set %d is %s", ErrNotRecoverable, slot, setIndex, status)
	}

	blobs, present, err := bt.gatherSet(slot, setIndex, meta)
	if err != nil {
		metrics.RecoveryAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	data, coding, err := erasure.Decode(blobs, present)
	if err != nil {
		metrics.RecoveryAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("failed to recover slot %d set %d: %w", slot, setIndex, err)
	}

	w := bt.newWriteSet()
	for _, blob := range data {
		if err := w.insertData(blob); err != nil {
			metrics.RecoveryAttemptsTotal.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("failed to store recovered blob: %w", err)
		}
	}
	for _, blob := range coding {
		if err := w.insertCoding(blob); err != nil {
			metrics.RecoveryAttemptsTotal.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("failed to store recovered coding blob: %w", err)
		}
	}

	if err := w.flush(); err != nil {
		metrics.RecoveryAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	metrics.RecoveryAttemptsTotal.WithLabelValues("success").Inc()
	metrics.RecoveredBlobsTotal.WithLabelValues(packet.DataShard.String()).Add(float64(len(data)))
	metrics.RecoveredBlobsTotal.WithLabelValues(packet.CodingShard.String()).Add(float64(len(coding)))

	slog.Info("Recovered erasure set",
		"slot", slot, "set", setIndex, "data", len(data), "coding", len(coding))

	return &types.RecoveryResult{
		Slot:            slot,
		SetIndex:        setIndex,
		DataRecovered:   len(data),
		CodingRecovered: len(coding),
	}, nil
}

// gatherSet loads every position of a set, data first then coding. Positions
// the meta marks present but the store lacks are treated as missing.
func (bt *Blocktree) gatherSet(slot, setIndex uint64, meta *types.ErasureMeta) ([]*packet.Blob, []bool, error) {
	h := meta.SessionInfo()
	total := h.DataCount + h.ParityCount

	blobs := make([]*packet.Blob, total)
	present := make([]bool, total)

	for i := 0; i < h.DataCount; i++ {
		index := h.StartIndex + uint64(i)
		blobs[i] = &packet.Blob{}
		if !meta.IsDataPresent(index) {
			continue
		}

		blob, err := bt.Store.GetBlob(slot, index)
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Erasure meta marks missing data blob present", "slot", slot, "index", index)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		blobs[i] = blob
		present[i] = true
	}

	for j := 0; j < h.ParityCount; j++ {
		pos := int(meta.CodingIndexInSet(uint64(j)))
		blobs[pos] = &packet.Blob{}
		if !meta.IsCodingPresent(uint64(j)) {
			continue
		}

		blob, err := bt.Store.GetCodingBlob(slot, setIndex, uint64(j))
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Erasure meta marks missing coding blob present", "slot", slot, "set", setIndex, "index", j)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		blobs[pos] = blob
		present[pos] = true
	}

	return blobs, present, nil
}

// ===== QUERIES =====

// SlotMeta returns the meta of a slot
func (bt *Blocktree) SlotMeta(slot uint64) (*types.SlotMeta, error) {
	return bt.Store.GetSlotMeta(slot)
}

// ErasureMeta returns the meta of one erasure set
func (bt *Blocktree) ErasureMeta(slot, setIndex uint64) (*types.ErasureMeta, error) {
	return bt.Store.GetErasureMeta(slot, setIndex)
}

// ErasureSet returns an erasure meta together with its current status
func (bt *Blocktree) ErasureSet(slot, setIndex uint64) (*types.ErasureSetInfo, error) {
	meta, err := bt.Store.GetErasureMeta(slot, setIndex)
	if err != nil {
		return nil, err
	}

	return &types.ErasureSetInfo{Slot: slot, SetIndex: setIndex, Meta: meta, Status: meta.Status()}, nil
}

// SlotInfo returns a slot meta with every erasure set of the slot
func (bt *Blocktree) SlotInfo(slot uint64) (*types.SlotInfo, error) {
	meta, err := bt.Store.GetSlotMeta(slot)
	if err != nil {
		return nil, err
	}

	info := &types.SlotInfo{Meta: meta, IsFull: meta.IsFull(), Sets: []types.ErasureSetInfo{}}
	err = bt.Store.ForEachErasureMetaInSlot(slot, func(setIndex uint64, em *types.ErasureMeta) bool {
		info.Sets = append(info.Sets, types.ErasureSetInfo{
			Slot:     slot,
			SetIndex: setIndex,
			Meta:     em,
			Status:   em.Status(),
		})
		return true
	})

	return info, err
}

// GetDataBlob returns the data blob at index in slot
func (bt *Blocktree) GetDataBlob(slot, index uint64) (*packet.Blob, error) {
	return bt.Store.GetBlob(slot, index)
}

// GetCodingBlob returns the coding blob at a parity position of a set
func (bt *Blocktree) GetCodingBlob(slot, setIndex, index uint64) (*packet.Blob, error) {
	return bt.Store.GetCodingBlob(slot, setIndex, index)
}

// SlotBlobs returns the contiguous run of data blobs consumed so far
func (bt *Blocktree) SlotBlobs(slot uint64) ([]*packet.Blob, error) {
	meta, err := bt.Store.GetSlotMeta(slot)
	if err != nil {
		return nil, err
	}

	blobs := make([]*packet.Blob, 0, meta.Consumed)
	for index := uint64(0); index < meta.Consumed; index++ {
		blob, err := bt.Store.GetBlob(slot, index)
		if err != nil {
			return nil, fmt.Errorf("consumed blob %d/%d unreadable: %w", slot, index, err)
		}
		blobs = append(blobs, blob)
	}

	return blobs, nil
}

// ListSlotMetas lists up to limit slot metas starting at slot from
func (bt *Blocktree) ListSlotMetas(from uint64, limit int) (*types.ListSlotsResult, error) {
	if limit <= 0 {
		limit = 1000 // Default max
	}

	result := &types.ListSlotsResult{Slots: []*types.SlotMeta{}}
	err := bt.Store.ForEachSlotMeta(func(meta *types.SlotMeta) bool {
		if meta.Slot < from {
			return true
		}
		if len(result.Slots) == limit {
			result.IsTruncated = true
			result.NextSlot = meta.Slot
			return false
		}
		result.Slots = append(result.Slots, meta)
		return true
	})

	return result, err
}

// Validate runs Diagnose over every slot meta and reports what it finds
func (bt *Blocktree) Validate() ([]types.Anomaly, error) {
	var anomalies []types.Anomaly

	err := bt.Store.ForEachSlotMeta(func(meta *types.SlotMeta) bool {
		anomalies = append(anomalies, meta.Diagnose()...)
		return true
	})
	if err != nil {
		return nil, err
	}

	reportAnomalies(anomalies)
	return anomalies, nil
}

func reportAnomalies(anomalies []types.Anomaly) {
	for _, a := range anomalies {
		metrics.SlotAnomaliesTotal.WithLabelValues(string(a.Kind)).Inc()
		slog.Error("Slot meta invariant violated", "slot", a.Slot, "kind", a.Kind, "detail", a.Message)
	}
}

// ===== WRITE SET =====

type setKey struct {
	slot     uint64
	setIndex uint64
}

type blobKey struct {
	slot  uint64
	index uint64
}

// writeSet caches the metas one mutation reads and modifies, and queues every
// write into a single batch
type writeSet struct {
	bt    *Blocktree
	batch *storage.WriteBatch

	slots  map[uint64]*types.SlotMeta
	sets   map[setKey]*types.ErasureMeta
	data   map[blobKey]struct{}
	coding int

	dirtySlots map[uint64]struct{}
	dirtySets  map[setKey]struct{}
}

func (bt *Blocktree) newWriteSet() *writeSet {
	return &writeSet{
		bt:         bt,
		batch:      bt.Store.NewBatch(),
		slots:      make(map[uint64]*types.SlotMeta),
		sets:       make(map[setKey]*types.ErasureMeta),
		data:       make(map[blobKey]struct{}),
		dirtySlots: make(map[uint64]struct{}),
		dirtySets:  make(map[setKey]struct{}),
	}
}

// slotMeta returns the cached meta of slot. Missing metas are created with the
// given parent when create is set, otherwise nil is returned.
func (w *writeSet) slotMeta(slot, parent uint64, create bool) (*types.SlotMeta, error) {
	if meta, ok := w.slots[slot]; ok {
		return meta, nil
	}

	meta, err := w.bt.Store.GetSlotMeta(slot)
	if errors.Is(err, storage.ErrNotFound) {
		if !create {
			return nil, nil
		}
		meta = types.NewSlotMeta(slot, parent)
		w.dirtySlots[slot] = struct{}{}
	} else if err != nil {
		return nil, err
	}

	w.slots[slot] = meta
	return meta, nil
}

func (w *writeSet) erasureMeta(key setKey, startIndex uint64) (*types.ErasureMeta, error) {
	if meta, ok := w.sets[key]; ok {
		return meta, nil
	}

	meta, err := w.bt.Store.GetErasureMeta(key.slot, key.setIndex)
	if errors.Is(err, storage.ErrNotFound) {
		meta = types.NewErasureMeta(key.setIndex, startIndex)
	} else if err != nil {
		return nil, err
	}

	w.sets[key] = meta
	return meta, nil
}

func (w *writeSet) hasData(slot, index uint64) (bool, error) {
	if _, ok := w.data[blobKey{slot, index}]; ok {
		return true, nil
	}
	return w.bt.Store.HasBlob(slot, index)
}

// locate returns the erasure set a data blob belongs to. A stamped coding
// header is authoritative; otherwise sets are NumData blobs wide.
func (w *writeSet) locate(blob *packet.Blob) (setIndex, startIndex uint64) {
	if h := blob.CodingHeader(); h.Encoded && h.HasSetIndex {
		return h.SetIndex, h.StartIndex
	}

	width := uint64(w.bt.Config.NumData)
	setIndex = blob.Index() / width
	return setIndex, setIndex * width
}

func (w *writeSet) insertData(blob *packet.Blob) error {
	if blob == nil || blob.IsCoding() {
		return fmt.Errorf("%w: expected a data blob", ErrInvalidBlob)
	}
	if len(blob.Data) < packet.BlobHeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than the blob header", ErrInvalidBlob, len(blob.Data))
	}
	if !blob.SizeValid() {
		return fmt.Errorf("%w: declared size exceeds %d bytes", ErrInvalidBlob, packet.BlobDataSize)
	}

	slot, index, parent := blob.Slot(), blob.Index(), blob.Parent()
	if index == types.UnknownIndex {
		return fmt.Errorf("%w: index %d is reserved", ErrInvalidBlob, index)
	}
	if slot != 0 && parent >= slot {
		return fmt.Errorf("%w: slot %d cannot have parent %d", ErrInvalidBlob, slot, parent)
	}
	if h := blob.CodingHeader(); h.Encoded && h.HasSetIndex {
		if index < h.StartIndex || index-h.StartIndex >= uint64(h.DataCount) {
			return fmt.Errorf("%w: index %d outside erasure set %d starting at %d with %d data blobs",
				ErrInvalidBlob, index, h.SetIndex, h.StartIndex, h.DataCount)
		}
	}

	exists, err := w.hasData(slot, index)
	if err != nil {
		return err
	}
	if exists {
		metrics.DuplicateBlobsTotal.WithLabelValues(packet.DataShard.String()).Inc()
		slog.Debug("Ignoring duplicate data blob", "slot", slot, "index", index)
		return nil
	}

	meta, err := w.slotMeta(slot, parent, true)
	if err != nil {
		return err
	}

	// A slot first seen as some child's parent learns its own parent here
	if !meta.IsParentSet() {
		meta.ParentSlot = parent
	}
	if meta.IsParentSet() && meta.ParentSlot != parent {
		slog.Warn("Data blob disagrees with slot parent",
			"slot", slot, "index", index, "parent", parent, "expected", meta.ParentSlot)
	}

	meta.Received = max(meta.Received, index+1)
	if blob.IsLastInSlot() {
		meta.LastIndex = index
	}
	w.dirtySlots[slot] = struct{}{}

	w.batch.PutBlob(blob)
	w.data[blobKey{slot, index}] = struct{}{}

	setIndex, startIndex := w.locate(blob)
	key := setKey{slot, setIndex}
	em, err := w.erasureMeta(key, startIndex)
	if err != nil {
		return err
	}

	if h := blob.CodingHeader(); h.Encoded && !em.SessionInfo().Encoded {
		em.SetSessionInfo(h)
	}
	em.SetDataPresent(index, true)
	w.dirtySets[key] = struct{}{}

	return nil
}

func (w *writeSet) insertCoding(blob *packet.Blob) error {
	if blob == nil || !blob.IsCoding() {
		return fmt.Errorf("%w: expected a coding blob", ErrInvalidBlob)
	}

	h := blob.CodingHeader()
	if !h.Encoded || !h.HasSetIndex {
		return fmt.Errorf("%w: coding blob carries no coding session", ErrInvalidBlob)
	}

	slot, index := blob.Slot(), blob.Index()
	if index >= uint64(h.ParityCount) {
		return fmt.Errorf("%w: coding index %d outside parity count %d", ErrInvalidBlob, index, h.ParityCount)
	}

	key := setKey{slot, h.SetIndex}
	em, err := w.erasureMeta(key, h.StartIndex)
	if err != nil {
		return err
	}

	if em.IsCodingPresent(index) {
		metrics.DuplicateBlobsTotal.WithLabelValues(packet.CodingShard.String()).Inc()
		slog.Debug("Ignoring duplicate coding blob", "slot", slot, "set", h.SetIndex, "index", index)
		return nil
	}

	if session := em.SessionInfo(); !session.Encoded {
		em.SetSessionInfo(h)
	} else if session != h {
		slog.Warn("Coding blob session differs from erasure meta",
			"slot", slot, "set", h.SetIndex, "index", index)
	}

	w.batch.PutCodingBlob(h.SetIndex, blob)
	em.SetCodingPresent(index, true)
	w.dirtySets[key] = struct{}{}
	w.coding++

	return nil
}

// advance moves the consumed cursor of every touched slot across stored blobs,
// links children to parents, and propagates connectivity
func (w *writeSet) advance() error {
	slots := make([]uint64, 0, len(w.dirtySlots))
	for slot := range w.dirtySlots {
		slots = append(slots, slot)
	}
	slices.Sort(slots)

	for _, slot := range slots {
		meta := w.slots[slot]
		for {
			ok, err := w.hasData(slot, meta.Consumed)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			meta.Consumed++
		}
	}

	for _, slot := range slots {
		meta := w.slots[slot]
		if slot == 0 || !meta.IsParentSet() {
			continue
		}

		// Orphan parents get a meta so the chain is walkable once they arrive
		parent, err := w.slotMeta(meta.ParentSlot, types.UnknownSlot, true)
		if err != nil {
			return err
		}
		if parent.AddNextSlot(slot) {
			w.dirtySlots[parent.Slot] = struct{}{}
		}
	}

	for _, slot := range slots {
		if err := w.connect(w.slots[slot]); err != nil {
			return err
		}
	}

	return nil
}

// connect marks meta connected when its parent chain allows it, then walks
// down to children that became connected as a result
func (w *writeSet) connect(meta *types.SlotMeta) error {
	if !meta.IsConnected && meta.IsFull() && meta.IsParentSet() {
		parent, err := w.slotMeta(meta.ParentSlot, 0, false)
		if err != nil {
			return err
		}
		if parent != nil && parent.IsConnected && parent.IsFull() {
			meta.IsConnected = true
			w.dirtySlots[meta.Slot] = struct{}{}
		}
	}

	queue := []*types.SlotMeta{meta}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if !current.IsConnected || !current.IsFull() {
			continue
		}

		for _, next := range current.NextSlots {
			child, err := w.slotMeta(next, current.Slot, false)
			if err != nil {
				return err
			}
			if child == nil || child.IsConnected || !child.IsFull() {
				continue
			}

			child.IsConnected = true
			w.dirtySlots[child.Slot] = struct{}{}
			queue = append(queue, child)
		}
	}

	return nil
}

// flush finalises slot metas and commits everything in one batch
func (w *writeSet) flush() error {
	if err := w.advance(); err != nil {
		return err
	}

	var anomalies []types.Anomaly
	for slot := range w.dirtySlots {
		meta := w.slots[slot]
		anomalies = append(anomalies, meta.Diagnose()...)
		w.batch.PutSlotMeta(meta)
	}
	reportAnomalies(anomalies)

	for key := range w.dirtySets {
		w.batch.PutErasureMeta(key.slot, key.setIndex, w.sets[key])
	}

	if err := w.bt.Store.Commit(w.batch); err != nil {
		return fmt.Errorf("failed to commit ledger batch: %w", err)
	}

	metrics.BlobsInsertedTotal.WithLabelValues(packet.DataShard.String()).Add(float64(len(w.data)))
	metrics.BlobsInsertedTotal.WithLabelValues(packet.CodingShard.String()).Add(float64(w.coding))

	return nil
}

// touchedSets returns the erasure sets this write modified in (slot, set) order
func (w *writeSet) touchedSets() []setKey {
	keys := make([]setKey, 0, len(w.dirtySets))
	for key := range w.dirtySets {
		keys = append(keys, key)
	}

	slices.SortFunc(keys, func(a, b setKey) int {
		if a.slot != b.slot {
			return cmp.Compare(a.slot, b.slot)
		}
		return cmp.Compare(a.setIndex, b.setIndex)
	})

	return keys
}
