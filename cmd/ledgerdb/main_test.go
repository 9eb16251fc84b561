package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/skshohagmiah/ledgerdb/pkg/core"
	"github.com/skshohagmiah/ledgerdb/pkg/erasure"
	"github.com/skshohagmiah/ledgerdb/pkg/packet"
	"github.com/skshohagmiah/ledgerdb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file pointing at a fresh ledger directory
func writeConfig(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	ledger := filepath.Join(dir, "ledger")
	path := filepath.Join(dir, "ledgerdb.yaml")

	content := fmt.Sprintf(`metadata_path: %s
backend: leveldb
compression: zstd
recover_on_insert: false
recovery_interval: 0s
gc_interval: 0s
log_level: error
`, ledger)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path, ledger
}

// seedLedger stores one erasure set of slot 1 with a data blob missing
func seedLedger(t *testing.T, cfgPath string) []*packet.Blob {
	t.Helper()

	cfg, err := types.LoadConfig(cfgPath)
	require.NoError(t, err)

	bt, err := core.NewBlocktree(cfg)
	require.NoError(t, err)
	defer bt.Close()

	blobs := make([]*packet.Blob, types.NumData)
	for i := range blobs {
		blobs[i] = packet.NewDataBlob(1, 0, uint64(i), []byte(fmt.Sprintf("entry %d", i)))
	}
	blobs[len(blobs)-1].SetLastInSlot()

	coding, err := erasure.Encode(1, 0, 0, blobs, types.NumCoding)
	require.NoError(t, err)

	require.NoError(t, bt.InsertDataBlobs(blobs[1:]))
	require.NoError(t, bt.InsertCodingBlob(coding[0]))

	return blobs
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path, ledger := writeConfig(t)

	cfgFile, logLevel, logFormat = path, "debug", "json"
	t.Cleanup(func() { cfgFile, logLevel, logFormat = "", "", "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ledger, cfg.MetadataPath)
	assert.Equal(t, types.BackendLevelDB, cfg.Backend)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestSlotCommand(t *testing.T) {
	path, _ := writeConfig(t)
	seedLedger(t, path)

	out, err := run(t, "slot", "1", "--config", path)
	require.NoError(t, err, out)

	var info types.SlotInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, uint64(1), info.Meta.Slot)
	assert.Equal(t, uint64(0), info.Meta.Consumed)
	require.Len(t, info.Sets, 1)
	assert.Equal(t, types.StatusCanRecover, info.Sets[0].Status.Kind)

	_, err = run(t, "slot", "abc", "--config", path)
	assert.Error(t, err)

	_, err = run(t, "slot", "7", "--config", path)
	assert.Error(t, err)
}

func TestRecoverCommand(t *testing.T) {
	path, _ := writeConfig(t)
	blobs := seedLedger(t, path)

	out, err := run(t, "recover", "--config", path)
	require.NoError(t, err, out)

	var results []types.RecoveryResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].DataRecovered)

	cfg, err := types.LoadConfig(path)
	require.NoError(t, err)
	bt, err := core.NewBlocktree(cfg)
	require.NoError(t, err)
	defer bt.Close()

	got, err := bt.GetDataBlob(1, 0)
	require.NoError(t, err)
	assert.Equal(t, blobs[0].Bytes(), got.Bytes())

	meta, err := bt.SlotMeta(1)
	require.NoError(t, err)
	assert.True(t, meta.IsFull())
}

func TestValidateCommand(t *testing.T) {
	path, _ := writeConfig(t)
	seedLedger(t, path)

	out, err := run(t, "validate", "--config", path)
	require.NoError(t, err, out)
	assert.JSONEq(t, "[]", out)
}

func TestResetCommand(t *testing.T) {
	path, ledger := writeConfig(t)
	seedLedger(t, path)

	_, err := run(t, "reset", "--config", path)
	assert.Error(t, err)
	assert.DirExists(t, ledger)

	_, err = run(t, "reset", "--yes", "--config", path)
	require.NoError(t, err)
	assert.NoDirExists(t, ledger)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ledgerdb")
}
