// filecorr fingerprints files and ranks the most similar entries of a
// stored corpus by TLSH and ssdeep.
//
// Usage:
//
//	filecorr [mcp] [flags]          serve MCP tools on stdio (default)
//	filecorr http [flags]           serve the HTTP API
//	filecorr import [flags] PATH... add files and directories to the corpus
//	filecorr export [flags]         write the corpus as file_db.json
//
// Shared flags, FILECORR_* environment variables and an optional YAML file
// (--config) configure storage, logging and comparison policy.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dshills/filecorr/internal/config"
	"github.com/dshills/filecorr/internal/corpus"
	"github.com/dshills/filecorr/internal/fingerprint"
	"github.com/dshills/filecorr/internal/httpapi"
	"github.com/dshills/filecorr/internal/ingest"
	"github.com/dshills/filecorr/internal/mcp"
	"github.com/dshills/filecorr/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && (args[0] == "--version" || args[0] == "version") {
		printVersion(os.Stdout)
		return nil
	}

	command := "mcp"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "mcp":
		return runMCP(args)
	case "http":
		return runHTTP(args)
	case "import":
		return runImport(args)
	case "export":
		return runExport(args)
	default:
		return fmt.Errorf("unknown command %q (want mcp, http, import or export)", command)
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "filecorr\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
}

// loadConfig parses shared flags for a command; a nil config with a nil
// error means help was printed
func loadConfig(fs *pflag.FlagSet, args []string) (*config.Config, error) {
	cfg, err := config.Load(fs, args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil, nil
	}
	return cfg, err
}

// app holds the engine components shared by every command
type app struct {
	store       *corpus.Store
	computer    *fingerprint.Computer
	coordinator *ingest.Coordinator
	importer    *ingest.Importer
	logger      *slog.Logger
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	backend, err := storage.Open(ctx, cfg.Backend, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	store, err := corpus.New(ctx, backend,
		corpus.WithDigestCheck(fingerprint.ValidateDigest),
		corpus.WithLogger(logger))
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	computer := fingerprint.NewComputer(fingerprint.WithLogger(logger))
	coordinator := ingest.NewCoordinator(computer, store, ingest.Config{
		SaveByDefault: cfg.SaveByDefault,
		TopMatches:    cfg.TopMatches,
	}, logger)

	logger.Info("corpus loaded",
		"backend", backend.Kind(),
		"path", cfg.DBPath,
		"records", store.Snapshot().Len(),
		"build_mode", storage.BuildMode)

	return &app{
		store:       store,
		computer:    computer,
		coordinator: coordinator,
		importer:    ingest.NewImporter(computer, store, logger),
		logger:      logger,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close corpus", "error", err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runMCP(args []string) error {
	fs := pflag.NewFlagSet("filecorr mcp", pflag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if cfg == nil || err != nil {
		return err
	}

	// stdout is reserved for the MCP protocol
	logger := config.SetupLogger(cfg, os.Stderr)
	logger.Info("filecorr MCP server starting", "version", version)

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := mcp.NewServer(a.coordinator, a.importer, mcp.Options{
		Version:       version,
		MaxFileSize:   cfg.MaxFileSize,
		ImportWorkers: cfg.ImportWorkers,
	}, logger)

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runHTTP(args []string) error {
	fs := pflag.NewFlagSet("filecorr http", pflag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if cfg == nil || err != nil {
		return err
	}

	logger := config.SetupLogger(cfg, os.Stderr)
	logger.Info("filecorr HTTP server starting", "version", version, "addr", cfg.HTTPAddr)

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	api := httpapi.NewAPI(a.coordinator, cfg.MaxFileSize, version, logger)
	server := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(api, logger), httpapi.Timeouts{
		Read:     cfg.HTTPReadTimeout,
		Write:    cfg.HTTPWriteTimeout,
		Idle:     cfg.HTTPIdleTimeout,
		Shutdown: cfg.ShutdownTimeout,
	}, logger)

	return server.Run(ctx)
}

func runImport(args []string) error {
	fs := pflag.NewFlagSet("filecorr import", pflag.ContinueOnError)
	recursive := fs.BoolP("recursive", "r", false, "descend into subdirectories")
	cfg, err := loadConfig(fs, args)
	if cfg == nil || err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("import: at least one file or directory is required")
	}

	logger := config.SetupLogger(cfg, os.Stderr)

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.importer.Import(ctx, fs.Args(), &ingest.ImportConfig{
		Workers:     cfg.ImportWorkers,
		Recursive:   *recursive,
		MaxFileSize: cfg.MaxFileSize,
	})
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Printf("processed %d files: %d created, %d merged, %d skipped, %d failed in %s\n",
		stats.FilesProcessed, stats.FilesCreated, stats.FilesMerged,
		stats.FilesSkipped, stats.FilesFailed, stats.Duration.Round(time.Millisecond))
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(os.Stderr, "  %s\n", msg)
	}
	if stats.FilesFailed > 0 {
		return fmt.Errorf("import: %d files failed", stats.FilesFailed)
	}
	return nil
}

func runExport(args []string) error {
	fs := pflag.NewFlagSet("filecorr export", pflag.ContinueOnError)
	out := fs.StringP("out", "o", "", "output file (default: stdout)")
	cfg, err := loadConfig(fs, args)
	if cfg == nil || err != nil {
		return err
	}

	logger := config.SetupLogger(cfg, os.Stderr)

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	records := a.store.Snapshot().Records()
	if *out == "" {
		return storage.ExportJSON(os.Stdout, records)
	}

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := storage.ExportJSON(f, records); err != nil {
		_ = f.Close()
		return fmt.Errorf("export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	logger.Info("corpus exported", "path", *out, "records", len(records))
	return nil
}
