// Command lookup resolves ENS names or Bitcoin balances privately against a lookupd server.
//
// Usage:
//
//	lookup [flags] <name-or-address>...
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/sprl/lookup"
	"github.com/sprl/lookup/pkg/client"
	"github.com/sprl/lookup/pkg/config"
	"github.com/sprl/lookup/pkg/identifier"
	"github.com/sprl/lookup/pkg/match"
	"github.com/sprl/lookup/pkg/observability/logging"
	"github.com/sprl/lookup/pkg/record"
	"github.com/sprl/lookup/pkg/transport"
)

var (
	configPath     = flag.StringP("config", "c", "", "Config file (.toml or .yaml)")
	endpoint       = flag.StringP("endpoint", "e", "", "Server endpoint (overrides config)")
	transportKind  = flag.String("transport", "", "http or grpc (overrides config)")
	profile        = flag.StringP("profile", "p", "", "Dataset profile: names or balances (overrides config)")
	credentialFile = flag.String("credential-file", "", "Keep the credential in this file (overrides config)")
	ephemeral      = flag.Bool("ephemeral", false, "Use a one-off key and register nothing")
	highPrivacy    = flag.Bool("high-privacy", false, "Pad lookup timing")
	showInfo       = flag.Bool("info", false, "Print the dataset info and exit")
	showProgress   = flag.Bool("progress", false, "Report upload and download progress on stderr")
	logLevel       = flag.String("log-level", "warn", "Log level")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: lookup [flags] <name-or-address>...\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "lookup: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer) error {
	file := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		file = loaded
	}
	applyFlags(&file.Client)
	if err := file.Validate(); err != nil {
		return err
	}

	logger, closer := logging.Setup("lookup", file.Log.Env, logging.Options{
		Level:  *logLevel,
		Format: "text",
		Output: os.Stderr,
	})
	defer closer.Close()

	cfg, err := lookup.ConfigFromFile(file, logger)
	if err != nil {
		return err
	}
	if *highPrivacy {
		cfg.Privacy = client.HighPrivacyConfig()
		cfg.Privacy.CoverInterval = 0 // a one-shot command has no idle time to cover
	}

	c, err := lookup.Open(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if *showInfo {
		info, err := c.Info(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "height:     %d\nlastupdate: %s\nprice:      %.2f USD/BTC\n", info.Height, info.LastUpdate, info.Price)
		return nil
	}

	if flag.NArg() == 0 {
		flag.Usage()
		return errors.New("nothing to look up")
	}

	var progress transport.Progress
	if *showProgress {
		progress = reportProgress
	}

	var failed int
	for _, arg := range flag.Args() {
		var err error
		if cfg.Profile.VariantValue() == identifier.Name {
			err = lookupName(ctx, out, c, arg, progress)
		} else {
			err = lookupBalance(ctx, out, c, arg, progress)
		}
		if err != nil {
			fmt.Fprintf(out, "%s: %s\n", arg, describe(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d lookups failed", failed, flag.NArg())
	}
	return nil
}

func applyFlags(c *config.ClientConfig) {
	if flag.CommandLine.Changed("endpoint") {
		c.Endpoint = *endpoint
	}
	if flag.CommandLine.Changed("transport") {
		c.Transport = *transportKind
	}
	if flag.CommandLine.Changed("profile") {
		c.Profile = *profile
	}
	if flag.CommandLine.Changed("credential-file") {
		c.CredentialFile = *credentialFile
		c.CredentialDB = ""
	}
	if *ephemeral {
		c.Ephemeral = true
	}
}

func lookupName(ctx context.Context, out io.Writer, c *lookup.Client, name string, progress transport.Progress) error {
	res, err := c.LookupNameWithProgress(ctx, name, progress)
	if err != nil {
		return err
	}
	if res.Status == match.NotFound {
		fmt.Fprintf(out, "%s: not found\n", res.Key.Normalized)
		return nil
	}

	fmt.Fprintf(out, "%s\n", res.Key.Normalized)
	if addr := res.Record.ChecksumAddress(); addr != "" {
		fmt.Fprintf(out, "  address: %s\n", addr)
	}
	keys := make([]string, 0, len(res.Record.Entries))
	for k := range res.Record.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s: %s\n", k, res.Record.Entries[k])
	}
	return nil
}

func lookupBalance(ctx context.Context, out io.Writer, c *lookup.Client, address string, progress transport.Progress) error {
	res, err := c.LookupBalanceWithProgress(ctx, address, progress)
	if err != nil {
		return err
	}
	if res.Status == match.NotFound {
		fmt.Fprintf(out, "%s: no transactions\n", res.Key.Normalized)
		return nil
	}

	price := res.Info.Price
	fmt.Fprintf(out, "%s: %s\n", res.Key.Normalized, record.FormatAmount(res.Record.Balance, price))
	for _, tx := range res.Record.Transactions {
		fmt.Fprintf(out, "  %s\n", record.FormatTransaction(tx, price))
	}
	return nil
}

// describe turns a lookup error into a line for the user. Server-side data
// faults are reported generically.
func describe(err error) string {
	switch {
	case errors.Is(err, lookup.ErrInvalidIdentifier):
		return err.Error()
	case errors.Is(err, lookup.ErrTimeout):
		return "server did not answer in time"
	case errors.Is(err, lookup.ErrTransport):
		return "server unreachable"
	case errors.Is(err, lookup.ErrRetrieval):
		return "the server returned unusable data"
	default:
		return err.Error()
	}
}

func reportProgress(stage transport.Stage, done, total int64) {
	if total > 0 {
		fmt.Fprintf(os.Stderr, "\r%s: %3d%%", stage, done*100/total)
		if done == total {
			fmt.Fprintln(os.Stderr)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "\r%s: %d bytes", stage, done)
}
