package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"planet-fetch/activation"
	"planet-fetch/config"
	"planet-fetch/download"
	"planet-fetch/ledger"
	"planet-fetch/metrics"
	"planet-fetch/planet"
	"planet-fetch/statusserver"

	"github.com/eidolon/wordwrap"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type downloadFlags struct {
	directory   string
	assetType   string
	workers     int
	metricsAddr string
	noLedger    bool
}

func (f *downloadFlags) register(fs *flag.FlagSet, def config.Config) {
	fs.StringVar(&f.directory, "d", def.Download.Directory, "Destination directory, must exist")
	fs.StringVar(&f.directory, "directory", def.Download.Directory, "Alias for -d")
	fs.StringVar(&f.assetType, "a", def.Download.AssetType, "Asset type to download")
	fs.StringVar(&f.assetType, "asset", def.Download.AssetType, "Alias for -a")
	fs.IntVar(&f.workers, "w", def.Download.Workers, "Items processed at once")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve batch status and metrics on this address, e.g. :9090")
	fs.BoolVar(&f.noLedger, "no-ledger", false, "Do not keep a ledger of completed downloads in the destination")
}

func (f *downloadFlags) apply(set map[string]bool, cfg *config.Config) {
	if set["d"] || set["directory"] {
		cfg.Download.Directory = f.directory
	}
	if set["a"] || set["asset"] {
		cfg.Download.AssetType = f.assetType
	}
	if set["w"] {
		cfg.Download.Workers = f.workers
	}
	if set["metrics-addr"] {
		cfg.Download.MetricsAddr = f.metricsAddr
	}
	if f.noLedger {
		cfg.Download.Ledger = false
	}
}

// readResults loads a result file written by the search command.
func readResults(path string) ([]planet.ItemRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []planet.ItemRecord
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return items, nil
}

// doDownload activates and retrieves cfg.Download.AssetType for items. It
// returns the batch summary; the error is only set when the batch could not
// start at all.
func doDownload(ctx context.Context, cfg config.Config, items []planet.ItemRecord, m *metrics.Metrics) (download.Summary, error) {
	runID := uuid.NewString()
	logger := log.WithField("run", runID)

	client, err := newClient(ctx, cfg)
	if err != nil {
		return download.Summary{}, err
	}

	opts := download.Options{
		Workers:             cfg.Download.Workers,
		MaxTransferAttempts: cfg.Retry.Attempts,
		MinBackoff:          cfg.Retry.Backoff.D(),
		MaxBackoff:          cfg.Retry.MaxBackoff.D(),
		Activation: activation.Options{
			PollInterval:  cfg.Activation.PollInterval.D(),
			MaxWait:       cfg.Activation.MaxWait.D(),
			MaxPollErrors: cfg.Activation.MaxPollErrors,
		},
		Metrics: m,
	}
	if cfg.Download.Ledger {
		path := filepath.Join(cfg.Download.Directory, ledger.FileName)
		l, err := ledger.Open(path)
		if err != nil {
			logger.Warnf("Continuing without ledger: %v", err)
		} else {
			defer l.Close()
			opts.Ledger = l
		}
	}
	coord := download.New(client, opts)

	if cfg.Download.MetricsAddr != "" {
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		srv := statusserver.New(coord, m, runID)
		go func() {
			if err := srv.Serve(sctx, cfg.Download.MetricsAddr); err != nil {
				logger.Errorf("Status server: %v", err)
			}
		}()
	}

	logger.Infof("Starting batch of %d items", len(items))
	tasks, err := coord.Run(ctx, items, cfg.Download.AssetType, cfg.Download.Directory)
	if err != nil {
		return download.Summary{}, err
	}
	summary := download.Summarize(tasks)
	logger.Infof("Batch done: %s", summary)
	return summary, nil
}

// printFailures lists failed items on stderr, long messages wrapped.
func printFailures(s download.Summary) {
	if len(s.Failures) == 0 {
		return
	}
	wrap := wordwrap.Wrapper(72, false)
	fmt.Fprintf(os.Stderr, "%d of %d items failed:\n", s.Failed, s.Total)
	for _, f := range s.Failures {
		fmt.Fprintf(os.Stderr, "  %s (%s)\n", f.ItemID, f.Reason)
		if f.Message != "" {
			fmt.Fprintln(os.Stderr, wordwrap.Indent(wrap(f.Message), "      ", true))
		}
	}
}

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	var c common
	var df downloadFlags
	c.register(fs)
	df.register(fs, config.Default())
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: planet-fetch download [options] <result.json>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Activates and downloads one asset of every item in a search result file.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := c.load()
	if err != nil {
		log.Errorf("%v", err)
		return ExitInvalidArgs
	}
	df.apply(visited(fs), &cfg)
	if err := cfg.Validate(); err != nil {
		log.Errorf("%v", err)
		return ExitInvalidArgs
	}

	items, err := readResults(fs.Arg(0))
	if err != nil {
		log.Errorf("%v", err)
		return ExitInvalidArgs
	}
	return finishDownload(topLevelContext(), cfg, items, metrics.New())
}

func finishDownload(ctx context.Context, cfg config.Config, items []planet.ItemRecord, m *metrics.Metrics) int {
	summary, err := doDownload(ctx, cfg, items, m)
	if err != nil {
		log.Errorf("%v", err)
		return ExitFailure
	}
	printFailures(summary)
	if err := summary.Err(); err != nil {
		return ExitFailure
	}
	return ExitSuccess
}

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	var c common
	var sf searchFlags
	var df downloadFlags
	c.register(fs)
	sf.register(fs, config.Default())
	df.register(fs, config.Default())
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: planet-fetch fetch [options] <aoi.geojson>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Searches, writes the result file, then downloads every item found.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := c.load()
	if err != nil {
		log.Errorf("%v", err)
		return ExitInvalidArgs
	}
	set := visited(fs)
	if err := sf.apply(set, &cfg); err != nil {
		log.Errorf("%v", err)
		return ExitInvalidArgs
	}
	df.apply(set, &cfg)
	if err := cfg.Validate(); err != nil {
		log.Errorf("%v", err)
		return ExitInvalidArgs
	}

	ctx := topLevelContext()
	m := metrics.New()
	items, err := doSearch(ctx, cfg, fs.Arg(0), !sf.noPrint, m)
	if err != nil {
		return searchExitCode(err)
	}
	if len(items) == 0 {
		log.Infof("Nothing to download")
		return ExitSuccess
	}
	return finishDownload(ctx, cfg, items, m)
}
