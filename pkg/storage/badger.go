package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// BadgerKV implements KV on BadgerDB
type BadgerKV struct {
	db       *badger.DB
	inMemory bool
}

// NewBadgerKV opens a BadgerDB-backed store. An empty path with inMemory set
// keeps everything in memory.
func NewBadgerKV(path string, compressionType string, inMemory bool) (*BadgerKV, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Configure BadgerDB for ledger workload
	opts.Logger = nil // Disable logging for cleaner output

	// Set compression
	switch compressionType {
	case "snappy":
		opts.Compression = options.Snappy
	case "zstd":
		opts.Compression = options.ZSTD
	case "none":
		opts.Compression = options.None
	default:
		opts.Compression = options.Snappy
	}

	// Metas are small and hot, blobs go to the value log
	opts.ValueThreshold = 1024
	opts.NumMemtables = 2
	opts.NumLevelZeroTables = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerKV{db: db, inMemory: inMemory}, nil
}

func (k *BadgerKV) Get(key []byte) ([]byte, error) {
	var value []byte

	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}

	return value, err
}

func (k *BadgerKV) Has(key []byte) (bool, error) {
	err := k.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}

	return err == nil, err
}

func (k *BadgerKV) Put(key, value []byte) error {
	return k.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (k *BadgerKV) Delete(key []byte) error {
	return k.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (k *BadgerKV) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return k.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			next := true
			err := item.Value(func(val []byte) error {
				next = fn(item.Key(), val)
				return nil
			})

			if err != nil {
				return err
			}
			if !next {
				return nil
			}
		}

		return nil
	})
}

func (k *BadgerKV) Write(b *Batch) error {
	return k.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RunGarbageCollection runs BadgerDB value log garbage collection
func (k *BadgerKV) RunGarbageCollection() error {
	if k.inMemory {
		return nil
	}

	err := k.db.RunValueLogGC(0.5) // Discard 50% space
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (k *BadgerKV) Close() error {
	return k.db.Close()
}
