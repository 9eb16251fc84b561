package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendBadger  = "badger"
	BackendLevelDB = "leveldb"
)

// Config holds configuration for ledgerdb
type Config struct {
	MetadataPath    string `yaml:"metadata_path"` // Path for the ledger KV store
	Backend         string `yaml:"backend"`       // badger or leveldb
	CompressionType string `yaml:"compression"`   // none, snappy, zstd
	InMemory        bool   `yaml:"in_memory"`     // Keep everything in memory (tests, tooling)

	// Erasure set geometry used when blobs carry no coding header yet
	NumData   int `yaml:"num_data"`
	NumCoding int `yaml:"num_coding"`

	// Attempt recovery as soon as an insert makes a set recoverable
	RecoverOnInsert bool `yaml:"recover_on_insert"`

	RecoveryInterval time.Duration `yaml:"recovery_interval"` // Background recovery scan, 0 disables
	GCInterval       time.Duration `yaml:"gc_interval"`       // Value log GC / compaction, 0 disables

	APIAddr   string `yaml:"api_addr"`
	APIKey    string `yaml:"api_key"` // Required on mutating API calls when set
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MetadataPath:     "./data/ledger",
		Backend:          BackendBadger,
		CompressionType:  "snappy",
		NumData:          NumData,
		NumCoding:        NumCoding,
		RecoverOnInsert:  true,
		RecoveryInterval: 30 * time.Second,
		GCInterval:       1 * time.Hour,
		APIAddr:          ":9080",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the store cannot run with
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendBadger, BackendLevelDB:
	default:
		return fmt.Errorf("unknown backend: %q", c.Backend)
	}

	switch c.CompressionType {
	case "", "none", "snappy", "zstd":
	default:
		return fmt.Errorf("unknown compression: %q", c.CompressionType)
	}

	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.LogFormat)
	}

	if c.NumData < 1 || c.NumCoding < 1 {
		return fmt.Errorf("erasure set needs at least one data and one coding shard, got %d+%d", c.NumData, c.NumCoding)
	}
	if c.NumData+c.NumCoding > MaxSetSize {
		return fmt.Errorf("erasure set size %d exceeds max %d", c.NumData+c.NumCoding, MaxSetSize)
	}

	if !c.InMemory && c.MetadataPath == "" {
		return fmt.Errorf("metadata_path is required unless in_memory is set")
	}

	return nil
}

// ErasureSetInfo describes one erasure set of a slot
type ErasureSetInfo struct {
	Slot     uint64        `json:"slot"`
	SetIndex uint64        `json:"set_index"`
	Meta     *ErasureMeta  `json:"meta"`
	Status   ErasureStatus `json:"status"`
}

// SlotInfo is a slot meta together with its erasure sets
type SlotInfo struct {
	Meta   *SlotMeta        `json:"meta"`
	IsFull bool             `json:"is_full"`
	Sets   []ErasureSetInfo `json:"sets"`
}

// ListSlotsResult represents result of listing slot metas
type ListSlotsResult struct {
	Slots       []*SlotMeta `json:"slots"`
	IsTruncated bool        `json:"is_truncated"`
	NextSlot    uint64      `json:"next_slot"`
}

// RecoveryResult reports what one erasure set recovery produced
type RecoveryResult struct {
	Slot            uint64 `json:"slot"`
	SetIndex        uint64 `json:"set_index"`
	DataRecovered   int    `json:"data_recovered"`
	CodingRecovered int    `json:"coding_recovered"`
}
