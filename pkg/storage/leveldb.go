package storage

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBKV implements KV on LevelDB.
// Thread-safe: LevelDB handles its own synchronization.
type LevelDBKV struct {
	db *leveldb.DB

	// Set when values are zstd-compressed before they reach LevelDB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewLevelDBKV opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func NewLevelDBKV(path string, compressionType string) (*LevelDBKV, error) {
	o := &opt.Options{}
	kv := &LevelDBKV{}

	switch compressionType {
	case "none":
		o.Compression = opt.NoCompression
	case "zstd":
		// Block compression would only recompress zstd frames
		o.Compression = opt.NoCompression

		var err error
		if kv.encoder, err = zstd.NewWriter(nil); err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		if kv.decoder, err = zstd.NewReader(nil); err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	default:
		o.Compression = opt.SnappyCompression
	}

	var err error
	if path == "" {
		kv.db, err = leveldb.Open(leveldbstorage.NewMemStorage(), o)
	} else {
		kv.db, err = leveldb.OpenFile(path, o)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	return kv, nil
}

func (k *LevelDBKV) Get(key []byte) ([]byte, error) {
	data, err := k.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %x: %w", key, err)
	}
	return k.decode(data)
}

func (k *LevelDBKV) Has(key []byte) (bool, error) {
	return k.db.Has(key, nil)
}

func (k *LevelDBKV) Put(key, value []byte) error {
	return k.db.Put(key, k.encode(value), nil)
}

func (k *LevelDBKV) Delete(key []byte) error {
	return k.db.Delete(key, nil)
}

func (k *LevelDBKV) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := k.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		value, err := k.decode(iter.Value())
		if err != nil {
			return fmt.Errorf("iterate %x: %w", iter.Key(), err)
		}
		if !fn(iter.Key(), value) {
			break
		}
	}

	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate %x: %w", prefix, err)
	}

	return nil
}

func (k *LevelDBKV) Write(b *Batch) error {
	batch := new(leveldb.Batch)
	for _, op := range b.ops {
		if op.delete {
			batch.Delete(op.key)
		} else {
			batch.Put(op.key, k.encode(op.value))
		}
	}
	return k.db.Write(batch, nil)
}

// RunGarbageCollection compacts the whole key range
func (k *LevelDBKV) RunGarbageCollection() error {
	return k.db.CompactRange(util.Range{})
}

func (k *LevelDBKV) Close() error {
	if k.decoder != nil {
		k.decoder.Close()
	}
	if k.encoder != nil {
		if err := k.encoder.Close(); err != nil {
			return err
		}
	}
	return k.db.Close()
}

func (k *LevelDBKV) encode(value []byte) []byte {
	if k.encoder == nil {
		return value
	}
	return k.encoder.EncodeAll(value, make([]byte, 0, len(value)))
}

func (k *LevelDBKV) decode(data []byte) ([]byte, error) {
	if k.decoder == nil {
		return data, nil
	}
	value, err := k.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return value, nil
}
