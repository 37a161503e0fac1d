package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"planet-fetch/config"
	"planet-fetch/planet"

	log "github.com/sirupsen/logrus"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitInvalidArgs  = 2
	ExitSearchFailed = 3
)

func topLevelContext() context.Context {
	ctx, cancelf := context.WithCancel(context.Background())
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		log.Warnf("Caught signal %q, shutting down.", sig)
		cancelf()
	}()
	return ctx
}

// stringList is a repeatable flag that also accepts comma separated values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, config.SplitList(v)...)
	return nil
}

// common holds the flags every command accepts.
type common struct {
	configPath string
	envPath    string
	apiKey     string
	verbose    bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML config file")
	fs.StringVar(&c.envPath, "env", ".env", "dotenv file loaded into the environment if present")
	fs.StringVar(&c.apiKey, "api-key", "", "Planet API key (default $PL_API_KEY)")
	fs.BoolVar(&c.verbose, "v", false, "Debug logging")
}

// load builds the effective config: defaults, file, environment.
func (c *common) load() (config.Config, error) {
	if err := config.LoadDotEnv(c.envPath); err != nil {
		return config.Config{}, fmt.Errorf("load %s: %w", c.envPath, err)
	}
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(c.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	if c.apiKey != "" {
		cfg.APIKey = c.apiKey
	}
	if c.verbose {
		cfg.LogLevel = "debug"
	}
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)
	return cfg, nil
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func newClient(ctx context.Context, cfg config.Config) (*planet.Client, error) {
	key, err := planet.ResolveAPIKey(ctx, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	opts := planet.DefaultOptions()
	opts.APIKey = key
	opts.BaseURL = cfg.BaseURL
	opts.RequestsPerSecond = cfg.RateLimit
	opts.PageSize = cfg.Search.PageSize
	return planet.New(opts), nil
}

func runSaveKey(args []string) int {
	fs := flag.NewFlagSet("save-key", flag.ExitOnError)
	project := fs.String("project", os.Getenv("DATASTORE_PROJECT"), "Cloud Datastore project")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: planet-fetch save-key [-project id] <api-key>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 || *project == "" {
		fs.Usage()
		return ExitInvalidArgs
	}
	if err := planet.SaveAPIKey(topLevelContext(), *project, fs.Arg(0)); err != nil {
		log.Errorf("%v", err)
		return ExitFailure
	}
	log.Infof("Saved API key to project %q", *project)
	return ExitSuccess
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}
	switch args[0] {
	case "search":
		return runSearch(args[1:])
	case "download":
		return runDownload(args[1:])
	case "fetch":
		return runFetch(args[1:])
	case "save-key":
		return runSaveKey(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: planet-fetch <command> [options]

Commands:
  search    Search the catalog and write matching items to a JSON file
  download  Activate and download one asset type for items in a result file
  fetch     search followed by download
  save-key  Store an API key in Cloud Datastore

Run 'planet-fetch <command> -h' for command-specific help.`)
}

func main() {
	os.Exit(run(os.Args[1:]))
}
