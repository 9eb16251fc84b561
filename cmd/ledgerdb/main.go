package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/skshohagmiah/ledgerdb/pkg/api"
	"github.com/skshohagmiah/ledgerdb/pkg/core"
	"github.com/skshohagmiah/ledgerdb/pkg/storage"
	"github.com/skshohagmiah/ledgerdb/pkg/types"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

var (
	cfgFile   string
	logLevel  string
	logFormat string
	apiAddr   string
	confirm   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ledgerdb",
		Short: "ledgerdb - blob ledger with erasure-coded recovery",
		Long: `ledgerdb stores ledger blobs per slot, tracks erasure sets and rebuilds
lost blobs from Reed-Solomon parity.

  ledgerdb serve --config ledgerdb.yaml
  ledgerdb slot 42
  ledgerdb recover
  ledgerdb reset --yes`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the ledger and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&apiAddr, "api", "", "API listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)

	slotCmd := &cobra.Command{
		Use:   "slot <slot>",
		Short: "Print a slot meta and its erasure sets as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runSlot,
	}
	rootCmd.AddCommand(slotCmd)

	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover every erasure set that has enough shards",
		Args:  cobra.NoArgs,
		RunE:  runRecover,
	}
	rootCmd.AddCommand(recoverCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check slot metas for invariant violations",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
	rootCmd.AddCommand(validateCmd)

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the ledger directory",
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}
	resetCmd.Flags().BoolVar(&confirm, "yes", false, "confirm deletion")
	rootCmd.AddCommand(resetCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledgerdb %s\n", Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// loadConfig reads --config when given and applies flag overrides
func loadConfig() (*types.Config, error) {
	cfg := types.DefaultConfig()
	if cfgFile != "" {
		var err error
		if cfg, err = types.LoadConfig(cfgFile); err != nil {
			return nil, err
		}
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	return cfg, nil
}

// setupLogging installs the process-wide slog handler
func setupLogging(cfg *types.Config, w io.Writer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openBlocktree loads config, sets up logging and opens the ledger. One-shot
// commands run without the background workers.
func openBlocktree(background bool) (*core.Blocktree, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg, os.Stderr)

	if !background {
		cfg.RecoveryInterval = 0
		cfg.GCInterval = 0
	}

	return core.NewBlocktree(cfg)
}

// nolint:revive // args required by cobra.Command RunE signature
func runServe(cmd *cobra.Command, args []string) error {
	bt, err := openBlocktree(true)
	if err != nil {
		return err
	}
	defer bt.Close()

	addr := bt.Config.APIAddr
	if apiAddr != "" {
		addr = apiAddr
	}
	server := api.NewServer(bt, addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	slog.Info("ledgerdb started",
		"api", addr,
		"backend", bt.Config.Backend,
		"path", bt.Config.MetadataPath,
		"recover_on_insert", bt.Config.RecoverOnInsert,
	)

	// Wait for termination
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}

	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runSlot(cmd *cobra.Command, args []string) error {
	slot, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid slot %q: %w", args[0], err)
	}

	bt, err := openBlocktree(false)
	if err != nil {
		return err
	}
	defer bt.Close()

	info, err := bt.SlotInfo(slot)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), info)
}

// nolint:revive // args required by cobra.Command RunE signature
func runRecover(cmd *cobra.Command, args []string) error {
	bt, err := openBlocktree(false)
	if err != nil {
		return err
	}
	defer bt.Close()

	results, err := bt.RecoverAll()
	if results == nil {
		results = []types.RecoveryResult{}
	}
	if printErr := printJSON(cmd.OutOrStdout(), results); printErr != nil {
		return printErr
	}

	return err
}

// nolint:revive // args required by cobra.Command RunE signature
func runValidate(cmd *cobra.Command, args []string) error {
	bt, err := openBlocktree(false)
	if err != nil {
		return err
	}
	defer bt.Close()

	anomalies, err := bt.Validate()
	if err != nil {
		return err
	}
	if anomalies == nil {
		anomalies = []types.Anomaly{}
	}

	return printJSON(cmd.OutOrStdout(), anomalies)
}

// nolint:revive // args required by cobra.Command RunE signature
func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg, os.Stderr)

	if cfg.InMemory {
		return fmt.Errorf("nothing to reset for an in-memory ledger")
	}
	if !confirm {
		return fmt.Errorf("refusing to delete %s without --yes", cfg.MetadataPath)
	}

	if err := storage.Destroy(cfg.MetadataPath); err != nil {
		return err
	}

	slog.Info("Ledger deleted", "path", cfg.MetadataPath)
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
