package storage

import "errors"

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("not found")

// KV is the ordered key-value store the ledger columns live in
type KV interface {
	// Get returns ErrNotFound for missing keys
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Iterate visits keys with the given prefix in ascending order until fn
	// returns false. Key and value are only valid during the call.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	// Write applies every operation of the batch atomically
	Write(b *Batch) error
	RunGarbageCollection() error
	Close() error
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes to be applied atomically by KV.Write
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) Reset() {
	b.ops = b.ops[:0]
}
