package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"planet-fetch/config"
	"planet-fetch/metrics"
	"planet-fetch/planet"
	"planet-fetch/search"
	"planet-fetch/util"

	"github.com/davecgh/go-spew/spew"
	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
)

type searchFlags struct {
	itemTypes   stringList
	cloud       float64
	lessThan    string
	greaterThan string
	permission  string
	output      string
	doPrint     bool
	noPrint     bool
}

func (f *searchFlags) register(fs *flag.FlagSet, def config.Config) {
	fs.Var(&f.itemTypes, "s", "Item type to search, repeatable (default "+planet.DefaultItemType+")")
	fs.Var(&f.itemTypes, "satellite", "Alias for -s")
	fs.Float64Var(&f.cloud, "c", def.Search.CloudCover, "Maximum cloud cover, 0 to 1")
	fs.Float64Var(&f.cloud, "cloudcover", def.Search.CloudCover, "Alias for -c")
	fs.StringVar(&f.lessThan, "datelessthan", def.Search.DateLessThan, "Last acquisition date, inclusive, YYYY-MM-DD")
	fs.StringVar(&f.greaterThan, "dategreaterthan", def.Search.DateGreaterThan, "First acquisition date, inclusive, YYYY-MM-DD")
	fs.StringVar(&f.permission, "p", def.Search.Permission, "Permission: assets.analytic:download, assets.visual:download or assets.udm:download")
	fs.StringVar(&f.permission, "permission", def.Search.Permission, "Alias for -p")
	fs.StringVar(&f.output, "o", def.Search.Output, "Result file")
	fs.StringVar(&f.output, "output", def.Search.Output, "Alias for -o")
	fs.BoolVar(&f.doPrint, "doprint", false, "Print item IDs as they arrive (default)")
	fs.BoolVar(&f.noPrint, "noprint", false, "Do not print item IDs")
}

// apply overlays the flags the user actually passed onto cfg.
func (f *searchFlags) apply(set map[string]bool, cfg *config.Config) error {
	if set["doprint"] && set["noprint"] {
		return errors.New("-doprint and -noprint are mutually exclusive")
	}
	if len(f.itemTypes) > 0 {
		cfg.Search.ItemTypes = f.itemTypes
	}
	if set["c"] || set["cloudcover"] {
		cfg.Search.CloudCover = f.cloud
	}
	if set["datelessthan"] {
		cfg.Search.DateLessThan = f.lessThan
	}
	if set["dategreaterthan"] {
		cfg.Search.DateGreaterThan = f.greaterThan
	}
	if set["p"] || set["permission"] {
		cfg.Search.Permission = f.permission
	}
	if set["o"] || set["output"] {
		cfg.Search.Output = f.output
	}
	return nil
}

// doSearch runs one search for the AOI in geojsonPath and writes every item to
// cfg.Search.Output. Items are returned in service order.
func doSearch(ctx context.Context, cfg config.Config, geojsonPath string, echo bool, m *metrics.Metrics) ([]planet.ItemRecord, error) {
	poly, err := util.LoadPolygon(geojsonPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", planet.ErrInvalidGeometry, geojsonPath, err)
	}
	aoi, err := planet.NewAOI(poly)
	if err != nil {
		return nil, err
	}
	spec, err := planet.BuildFromStrings(aoi, cfg.Search.DateGreaterThan, cfg.Search.DateLessThan, cfg.Search.CloudCover, cfg.Search.Permission)
	if err != nil {
		return nil, err
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := search.Options{
		MaxAttempts: cfg.Retry.Attempts,
		MinBackoff:  cfg.Retry.Backoff.D(),
		MaxBackoff:  cfg.Retry.MaxBackoff.D(),
		OnPage:      func(_, items int) { m.SearchPage(items) },
	}
	pager, err := search.New(client, spec, cfg.Search.ItemTypes, opts)
	if err != nil {
		return nil, err
	}
	log.Debugf("Search request:\n%s", spew.Sdump(pager.Request()))
	log.Infof("Searching %v for %s, cloud cover <= %v", cfg.Search.ItemTypes, spec.Dates, spec.CloudCeiling)

	if echo {
		fmt.Println("Results from:", geojsonPath)
	}
	items := []planet.ItemRecord{}
	var footprints []orb.Geometry
	for {
		item, err := pager.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return items, err
		}
		if echo {
			fmt.Println(item.ID())
		}
		items = append(items, item)
		if g := item.Geometry(); g != nil {
			footprints = append(footprints, g)
		}
	}

	if err := util.WriteJSON(cfg.Search.Output, items); err != nil {
		return items, fmt.Errorf("write %s: %w", cfg.Search.Output, err)
	}
	log.Infof("Wrote %d items from %d pages to %s", len(items), pager.Pages(), cfg.Search.Output)
	if len(footprints) > 0 {
		log.Infof("Scenes cover about %.0f%% of the area of interest", 100*util.Coverage(aoi.Polygon(), footprints))
	}
	return items, nil
}

func runSearch(args []string) int {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	var c common
	var sf searchFlags
	c.register(fs)
	sf.register(fs, config.Default())
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: planet-fetch search [options] <aoi.geojson>")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Searches the Planet catalog for scenes over the polygon in the GeoJSON file.")
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
	if err := cfg.Validate(); err != nil {
		log.Errorf("%v", err)
		return ExitInvalidArgs
	}

	ctx := topLevelContext()
	if _, err := doSearch(ctx, cfg, fs.Arg(0), !sf.noPrint, nil); err != nil {
		return searchExitCode(err)
	}
	return ExitSuccess
}

func searchExitCode(err error) int {
	log.Errorf("%v", err)
	var failed *search.SearchFailed
	var rejected *search.SearchRejected
	switch {
	case errors.Is(err, planet.ErrNoAPIKey),
		errors.Is(err, planet.ErrInvalidGeometry),
		errors.Is(err, planet.ErrInvalidDateFormat),
		errors.Is(err, planet.ErrInvalidDateRange),
		errors.Is(err, planet.ErrInvalidCloudCeiling),
		errors.Is(err, planet.ErrInvalidPermission):
		return ExitInvalidArgs
	case errors.As(err, &failed), errors.As(err, &rejected):
		return ExitSearchFailed
	}
	return ExitFailure
}
