// Package cmd provides the CLI commands for Libris.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/libris-dev/libris/internal/chunk"
	"github.com/libris-dev/libris/internal/config"
	"github.com/libris-dev/libris/internal/embed"
	"github.com/libris-dev/libris/internal/extract"
	"github.com/libris-dev/libris/internal/index"
	"github.com/libris-dev/libris/internal/library"
	"github.com/libris-dev/libris/internal/lock"
	"github.com/libris-dev/libris/internal/logging"
	"github.com/libris-dev/libris/internal/scanner"
	"github.com/libris-dev/libris/internal/search"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	flagConfig  string
	flagDB      string
	flagDebug   bool
	flagOffline bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the libris CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "libris",
		Short: "Personal book library with semantic search",
		Long: `Libris indexes your ebook collection (PDF, EPUB, FB2, plain text)
into a local database and answers natural-language questions about it.

Everything runs locally: embeddings come from Ollama (or a built-in
offline embedder), and the index lives in a directory you choose.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("libris version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/"+config.DefaultConfigName+")")
	cmd.PersistentFlags().StringVar(&flagDB, "db", "", "Database directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "Use the offline embedder instead of Ollama")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(
		newIndexCmd(),
		newSearchCmd(),
		newScanCmd(),
		newStatsCmd(),
		newChatCmd(),
		newWatchCmd(),
		newResetCmd(),
	)
	return cmd
}

func setupLogging(cmd *cobra.Command, args []string) error {
	logCfg := logging.DefaultConfig()
	if flagDebug {
		logCfg.Level = "debug"
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// app bundles everything a command needs.
type app struct {
	cfg      *config.Config
	lib      *library.Library
	embedder embed.Embedder
	pipeline *index.Pipeline
	engine   *search.Engine
	scanner  *scanner.Scanner
	logger   *slog.Logger
}

// openApp loads config and opens the library.
func openApp() (*app, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}

	logger := slog.Default()

	lib, err := library.Open(library.Config{
		Dir: cfg.Database.Path,
		Lock: lock.Config{
			Timeout:    cfg.Lock.Timeout,
			StaleAfter: cfg.Lock.StaleAfter,
		},
		RenewInterval: cfg.Lock.RenewInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		lib.Close()
		return nil, err
	}

	registry := extract.NewRegistry()
	a := &app{
		cfg:      cfg,
		lib:      lib,
		embedder: embedder,
		logger:   logger,
		scanner:  scanner.New(lib, registry, logger),
		pipeline: index.New(index.Config{
			Writer:   lib,
			Registry: registry,
			Chunker: chunk.New(chunk.Options{
				Size:    cfg.Chunking.Size,
				Overlap: cfg.Chunking.Overlap,
			}),
			Embedder: embedder,
			Logger:   logger,
		}),
	}
	a.engine = search.NewEngine(lib, embedder, search.Config{
		MaxResults:     cfg.Search.MaxResults,
		RRFConstant:    cfg.Search.RRFConstant,
		KeywordWeight:  cfg.Search.KeywordWeight,
		SemanticWeight: cfg.Search.SemanticWeight,
	}, logger)
	return a, nil
}

func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	var inner embed.Embedder
	if flagOffline || cfg.Embeddings.Provider == "static" {
		inner = embed.NewStaticEmbedder(cfg.Embeddings.Dimensions)
	} else {
		inner = embed.NewOllamaEmbedder(embed.OllamaConfig{
			Host:       cfg.Embeddings.OllamaHost,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
		})
	}
	return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize)
}

func (a *app) Close() {
	if err := a.embedder.Close(); err != nil {
		a.logger.Warn("embedder_close_failed", slog.String("error", err.Error()))
	}
	if err := a.lib.Close(); err != nil {
		a.logger.Warn("library_close_failed", slog.String("error", err.Error()))
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// expandPath resolves ~ and returns an absolute path.
func expandPath(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == filepath.Separator {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
