// Package ledgerdb is a blob ledger that tracks slots and erasure sets and
// rebuilds lost blobs from Reed-Solomon parity.
//
// Most users only need Open:
//
//	cfg := ledgerdb.DefaultConfig()
//	cfg.MetadataPath = "./data/ledger"
//	db, err := ledgerdb.Open(cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
// The building blocks live in pkg/: erasure (codec), types (metas and config),
// packet (wire format), storage (KV backends) and core (the blocktree).
package ledgerdb

import (
	"github.com/skshohagmiah/ledgerdb/pkg/api"
	"github.com/skshohagmiah/ledgerdb/pkg/core"
	"github.com/skshohagmiah/ledgerdb/pkg/packet"
	"github.com/skshohagmiah/ledgerdb/pkg/types"
)

type (
	Config     = types.Config
	Blocktree  = core.Blocktree
	Blob       = packet.Blob
	SharedBlob = packet.SharedBlob
	Server     = api.Server
)

var (
	ErrInvalidBlob    = core.ErrInvalidBlob
	ErrNotRecoverable = core.ErrNotRecoverable
)

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return types.DefaultConfig()
}

// LoadConfig reads a YAML config file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	return types.LoadConfig(path)
}

// Open opens the ledger described by config and starts its background workers
func Open(config *Config) (*Blocktree, error) {
	return core.NewBlocktree(config)
}

// NewServer creates the HTTP API for an open ledger
func NewServer(bt *Blocktree, addr string) *Server {
	return api.NewServer(bt, addr)
}
