// Package download activates and downloads the assets of a batch of items.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"planet-fetch/activation"
	"planet-fetch/ledger"
	"planet-fetch/metrics"
	"planet-fetch/planet"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Service is the asset API: activation plus byte retrieval.
type Service interface {
	activation.Service
	Download(ctx context.Context, location string) (*planet.Body, error)
}

// Options configures a Coordinator.
type Options struct {
	// Workers is the number of items processed at once. Default: 5
	Workers int

	// MaxTransferAttempts bounds retries of a failed byte transfer. Default: 5
	MaxTransferAttempts int

	// MinBackoff and MaxBackoff shape the wait between transfer attempts.
	// Default: 1s and 30s
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Activation configures the per-asset tracker.
	Activation activation.Options

	// Ledger, when set, records completed downloads and is consulted by the
	// skip-if-complete check.
	Ledger *ledger.Ledger

	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// DefaultOptions returns the policy used by the CLI.
func DefaultOptions() Options {
	return Options{
		Workers:             5,
		MaxTransferAttempts: 5,
		MinBackoff:          time.Second,
		MaxBackoff:          30 * time.Second,
		Activation:          activation.DefaultOptions(),
	}
}

// Coordinator runs one batch at a time.
type Coordinator struct {
	svc     Service
	opts    Options
	tracker *activation.Tracker

	mu       sync.Mutex
	tasks    []*Task
	existing map[string][]string
}

func New(svc Service, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.MaxTransferAttempts <= 0 {
		opts.MaxTransferAttempts = def.MaxTransferAttempts
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = def.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = def.MaxBackoff
		if opts.MaxBackoff < opts.MinBackoff {
			opts.MaxBackoff = opts.MinBackoff
		}
	}
	act := opts.Activation
	userHook := act.OnTransition
	m := opts.Metrics
	act.OnTransition = func(h *activation.Handle, from, to activation.State) {
		m.ActivationTransition(string(to))
		if userHook != nil {
			userHook(h, from, to)
		}
	}
	return &Coordinator{
		svc:     svc,
		opts:    opts,
		tracker: activation.New(svc, act),
	}
}

// Run activates and downloads assetType for every item into destDir, which
// must already exist. It returns once every task is terminal; the result is
// in input order and holds exactly one task per item. Failures of single
// items are recorded on their task and do not stop the batch. Cancelling ctx
// stops admitting items and fails whatever has not finished.
func (c *Coordinator) Run(ctx context.Context, items []planet.ItemRecord, assetType, destDir string) ([]*Task, error) {
	if assetType == "" {
		return nil, errors.New("download: empty asset type")
	}
	fi, err := os.Stat(destDir)
	if err != nil {
		return nil, fmt.Errorf("download: destination: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("download: destination %q is not a directory", destDir)
	}
	existing, err := indexDir(destDir)
	if err != nil {
		return nil, fmt.Errorf("download: list destination: %w", err)
	}

	tasks := make([]*Task, len(items))
	for i, item := range items {
		tasks[i] = &Task{
			Item:   item,
			Asset:  activation.NewHandle(item.ID(), item.ItemType(), assetType),
			Status: Pending,
		}
	}
	c.mu.Lock()
	c.tasks = tasks
	c.existing = existing
	c.mu.Unlock()

	log.Infof("Retrieving %q for %d items with %d workers into %s", assetType, len(items), c.opts.Workers, destDir)

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		t := t
		g.Go(func() error {
			c.process(ctx, t, destDir)
			return nil
		})
	}
	g.Wait()

	for _, t := range tasks {
		c.mu.Lock()
		if !t.Status.Terminal() {
			t.Status = Failed
			t.Reason = ReasonCancelled
			t.Err = context.Cause(ctx)
			if t.Err == nil {
				t.Err = context.Canceled
			}
			c.opts.Metrics.TaskAbandoned(string(Failed))
		}
		c.mu.Unlock()
	}
	return tasks, nil
}

// Snapshot copies the task table of the current or last run.
func (c *Coordinator) Snapshot() []TaskSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TaskSnapshot, len(c.tasks))
	for i, t := range c.tasks {
		out[i] = t.snapshot()
	}
	return out
}

func (c *Coordinator) update(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

func (c *Coordinator) finish(t *Task, reason string, err error) {
	c.update(func() {
		if err == nil {
			t.Status = Succeeded
		} else {
			t.Status = Failed
			t.Reason = reason
			t.Err = err
		}
	})
	c.opts.Metrics.TaskFinished(string(t.Status))
}

func (c *Coordinator) process(ctx context.Context, t *Task, destDir string) {
	logger := log.WithFields(log.Fields{"item": t.Item.ID(), "asset": t.Asset.AssetType})
	c.update(func() { t.Status = InProgress })
	c.opts.Metrics.TaskStarted()

	if ctx.Err() != nil {
		c.finish(t, ReasonCancelled, ctx.Err())
		return
	}

	if path, size, sum, ok := c.complete(ctx, t); ok {
		logger.Infof("Already downloaded at %s", path)
		c.update(func() {
			t.Path = path
			t.Bytes = size
			t.MD5 = sum
			t.Skipped = true
		})
		c.finish(t, "", nil)
		return
	}

	if err := c.tracker.Activate(ctx, t.Asset); err != nil {
		reason := string(t.Asset.Reason())
		if reason == "" || ctx.Err() != nil {
			reason = ReasonCancelled
		}
		logger.Warnf("Activation failed (%s): %v", reason, err)
		c.finish(t, reason, err)
		return
	}
	logger.Debugf("Active at %s", t.Asset.Location())

	path, n, sum, err := c.transfer(ctx, t, destDir)
	if err != nil {
		reason := ReasonTransfer
		var local *LocalError
		switch {
		case ctx.Err() != nil:
			reason = ReasonCancelled
		case errors.As(err, &local):
			reason = ReasonFilesystem
		}
		logger.Warnf("Download failed: %v", err)
		c.finish(t, reason, err)
		return
	}
	if c.opts.Ledger != nil {
		entry := ledger.Entry{ItemID: t.Item.ID(), AssetType: t.Asset.AssetType, Path: path, Size: n, MD5: sum}
		if err := c.opts.Ledger.Record(ctx, entry); err != nil {
			logger.Errorf("Ledger record: %v", err)
		}
	}
	logger.Infof("Downloaded %d bytes to %s", n, path)
	c.update(func() {
		t.Path = path
		t.Bytes = n
		t.MD5 = sum
	})
	c.finish(t, "", nil)
}

// complete looks for a finished copy of the asset on disk. It asks the
// service for the asset's digest and size but never requests activation.
// When the service reports neither, the ledger's record of an earlier
// verified download is used instead.
func (c *Coordinator) complete(ctx context.Context, t *Task) (string, int64, string, bool) {
	h := t.Asset
	status, err := c.svc.AssetStatus(ctx, h.ItemType, h.ItemID, h.AssetType)
	if err != nil {
		log.WithField("item", h.ItemID).Debugf("Skip check: status unavailable: %v", err)
		status = nil
	}
	var entry *ledger.Entry
	if c.opts.Ledger != nil {
		if e, err := c.opts.Ledger.Lookup(ctx, h.ItemID, h.AssetType); err == nil {
			entry = e
		} else if !errors.Is(err, ledger.ErrNotFound) {
			log.WithField("item", h.ItemID).Warnf("Ledger lookup: %v", err)
		}
	}

	wantMD5 := ""
	var wantSize int64 = -1
	if status != nil {
		wantMD5 = status.MD5
		if status.Size > 0 {
			wantSize = status.Size
		}
	}
	if entry != nil {
		if wantMD5 == "" {
			wantMD5 = entry.MD5
		}
		if wantSize < 0 {
			wantSize = entry.Size
		}
	}
	if wantMD5 == "" && wantSize < 0 {
		return "", 0, "", false
	}

	var candidates []string
	if entry != nil {
		candidates = append(candidates, entry.Path)
	}
	c.mu.Lock()
	candidates = append(candidates, c.existing[h.ItemID]...)
	c.mu.Unlock()

	seen := make(map[string]bool)
	for _, path := range candidates {
		if seen[path] {
			continue
		}
		seen[path] = true
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if wantSize >= 0 && fi.Size() != wantSize {
			continue
		}
		sum := ""
		if wantMD5 != "" {
			sum, err = fileMD5(path)
			if err != nil || !strings.EqualFold(sum, wantMD5) {
				continue
			}
		}
		return path, fi.Size(), sum, true
	}
	if entry != nil {
		// The recorded file is gone or no longer matches.
		if err := c.opts.Ledger.Forget(ctx, h.ItemID, h.AssetType); err != nil {
			log.WithField("item", h.ItemID).Warnf("Ledger forget: %v", err)
		}
	}
	return "", 0, "", false
}

func (c *Coordinator) sleep(ctx context.Context, attempt int) error {
	wait := retryablehttp.DefaultBackoff(c.opts.MinBackoff, c.opts.MaxBackoff, attempt, nil)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transfer downloads the active asset, retrying transient failures. A
// partially written file never survives a failed attempt.
func (c *Coordinator) transfer(ctx context.Context, t *Task, destDir string) (string, int64, string, error) {
	h := t.Asset
	status := h.Status()
	declared := ""
	wantMD5 := ""
	if status != nil {
		declared = status.ContentType
		wantMD5 = status.MD5
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxTransferAttempts; attempt++ {
		if attempt > 1 {
			log.WithField("item", h.ItemID).Warnf("Transfer attempt %d failed: %v", attempt-1, lastErr)
			if err := c.sleep(ctx, attempt-2); err != nil {
				return "", 0, "", err
			}
		}
		body, err := c.svc.Download(ctx, h.Location())
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, "", ctx.Err()
			}
			if planet.IsClientError(err) {
				return "", 0, "", err
			}
			lastErr = err
			continue
		}

		ct := declared
		if ct == "" {
			ct = body.ContentType
		}
		path := filepath.Join(destDir, h.ItemID+extFor(ct))
		c.update(func() { t.Path = path })

		n, sum, err := writeFile(path, body, body.Size, wantMD5, c.opts.Metrics.BytesWritten)
		body.Close()
		if err == nil {
			return path, n, sum, nil
		}
		if ctx.Err() != nil {
			return "", 0, "", ctx.Err()
		}
		var local *LocalError
		if errors.As(err, &local) {
			return "", 0, "", err
		}
		lastErr = err
	}
	return "", 0, "", fmt.Errorf("after %d attempts: %w", c.opts.MaxTransferAttempts, lastErr)
}
