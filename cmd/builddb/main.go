// Command builddb builds a lookup dataset from a JSONL source and publishes it
// to a data directory that lookupd serves.
//
// Names sources carry one {"name", "address", "records"} object per line;
// balances sources one {"address", "balance", "transactions"} object.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/sprl/lookup/pkg/blob"
	"github.com/sprl/lookup/pkg/config"
	"github.com/sprl/lookup/pkg/dataset"
	"github.com/sprl/lookup/pkg/observability/logging"
)

var (
	configPath  = flag.StringP("config", "c", "", "Config file (.toml or .yaml)")
	source      = flag.StringP("source", "s", "", "JSONL source file, - for stdin (overrides config)")
	outputDir   = flag.StringP("output", "o", "", "Data directory to publish into (overrides config)")
	profile     = flag.StringP("profile", "p", "", "Dataset profile (overrides config)")
	price       = flag.Float64("price", 0, "USD per BTC to publish with the dataset (overrides config)")
	skipInvalid = flag.Bool("skip-invalid", false, "Skip unusable source lines instead of failing")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "builddb: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}
	applyFlags(&cfg.Dataset)

	logger, closer := logging.Setup("builddb", cfg.Log.Env, logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("build failed", "error", err)
		os.Exit(1)
	}
}

func applyFlags(d *config.DatasetConfig) {
	if flag.CommandLine.Changed("source") {
		d.Source = *source
	}
	if flag.CommandLine.Changed("output") {
		d.OutputDir = *outputDir
	}
	if flag.CommandLine.Changed("profile") {
		d.Profile = *profile
	}
	if flag.CommandLine.Changed("price") {
		d.Price = *price
	}
	if *skipInvalid {
		d.SkipInvalid = true
	}
}

func run(ctx context.Context, cfg config.File, logger *slog.Logger) error {
	d := cfg.Dataset
	if d.Source == "" {
		return fmt.Errorf("no source given")
	}
	if d.OutputDir == "" {
		return fmt.Errorf("no output directory given")
	}
	p, err := cfg.Profile(d.Profile)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if d.Source != "-" {
		f, err := os.Open(d.Source)
		if err != nil {
			return fmt.Errorf("failed to open source: %w", err)
		}
		defer f.Close()
		in = f
	}

	b, err := dataset.NewBuilder(dataset.Config{
		Identifier:    p.Identifier(false),
		NameLayout:    p.NameLayout(),
		BalanceLayout: p.BalanceLayout(),
		Compression:   p.Compression,
		ItemSize:      p.ItemSize,
	}, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	added, skipped, err := b.ReadJSONL(ctx, in, d.SkipInvalid)
	if err != nil {
		return err
	}
	logger.Info("source read", "profile", p.Name, "added", added, "skipped", skipped, "elapsed", time.Since(start))

	if err := os.MkdirAll(d.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	store, err := blob.NewFileStore(d.OutputDir)
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := b.Publish(ctx, store, d.Price)
	if err != nil {
		return err
	}
	if err := dataset.SaveInfo(d.OutputDir, info); err != nil {
		return err
	}

	abs, _ := filepath.Abs(d.OutputDir)
	logger.Info("dataset published",
		"dir", abs,
		"records", b.Len(),
		"height", info.Height,
		"lastupdate", info.LastUpdate,
		"elapsed", time.Since(start),
	)
	return nil
}
