package storage

import (
	"fmt"
	"os"

	"github.com/skshohagmiah/ledgerdb/pkg/types"
)

// Open opens the ledger store with the backend named in the config
func Open(cfg *types.Config) (*LedgerStore, error) {
	var (
		kv  KV
		err error
	)

	switch cfg.Backend {
	case types.BackendBadger, "":
		kv, err = NewBadgerKV(cfg.MetadataPath, cfg.CompressionType, cfg.InMemory)
	case types.BackendLevelDB:
		path := cfg.MetadataPath
		if cfg.InMemory {
			path = ""
		}
		kv, err = NewLevelDBKV(path, cfg.CompressionType)
	default:
		return nil, fmt.Errorf("unknown backend: %q", cfg.Backend)
	}

	if err != nil {
		return nil, err
	}

	return NewLedgerStore(kv), nil
}

// Destroy removes every file of the ledger at path
func Destroy(path string) error {
	if path == "" {
		return fmt.Errorf("refusing to destroy empty path")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to destroy ledger at %s: %w", path, err)
	}
	return nil
}
