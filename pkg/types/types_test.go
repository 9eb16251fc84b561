package types

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodingHeaderLayout(t *testing.T) {
	h := CodingHeader{
		DataCount:   8,
		ParityCount: 4,
		StartIndex:  48,
		ShardSize:   4096,
		Encoded:     true,
	}.WithSetIndex(6)

	buf := make([]byte, CodingHeaderSize)
	require.NoError(t, h.MarshalTo(buf))

	// data_count leads, encoded flag trails
	assert.Equal(t, byte(8), buf[0])
	assert.Equal(t, byte(1), buf[CodingHeaderSize-1])

	decoded, err := UnmarshalCodingHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)

	assert.Error(t, h.MarshalTo(buf[:CodingHeaderSize-1]))
	_, err = UnmarshalCodingHeader(buf[:10])
	assert.Error(t, err)
}

func TestCodingHeaderZeroValue(t *testing.T) {
	decoded, err := UnmarshalCodingHeader(make([]byte, CodingHeaderSize))
	require.NoError(t, err)
	assert.False(t, decoded.Encoded)
	assert.False(t, decoded.HasSetIndex)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgerdb.yaml")

	content := []byte(`
metadata_path: /var/lib/ledgerdb
backend: leveldb
compression: zstd
num_data: 4
num_coding: 2
recovery_interval: 5s
api_key: s3cret
log_format: json
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ledgerdb", cfg.MetadataPath)
	assert.Equal(t, BackendLevelDB, cfg.Backend)
	assert.Equal(t, "zstd", cfg.CompressionType)
	assert.Equal(t, 4, cfg.NumData)
	assert.Equal(t, 2, cfg.NumCoding)
	assert.Equal(t, 5*time.Second, cfg.RecoveryInterval)
	assert.Equal(t, "s3cret", cfg.APIKey)
	assert.Equal(t, "json", cfg.LogFormat)

	// Untouched fields keep their defaults
	assert.Equal(t, time.Hour, cfg.GCInterval)
	assert.True(t, cfg.RecoverOnInsert)
	assert.Equal(t, ":9080", cfg.APIAddr)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: rocksdb\n"), 0644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "unknown backend")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.NumCoding = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.NumData = 250
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CompressionType = "lz4"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.LogFormat = "xml"
	assert.ErrorContains(t, cfg.Validate(), "log format")

	cfg = DefaultConfig()
	cfg.MetadataPath = ""
	assert.Error(t, cfg.Validate())
	cfg.InMemory = true
	assert.NoError(t, cfg.Validate())
}
