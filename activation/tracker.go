// Package activation drives one asset from "not requested" to downloadable.
//
// The Data API stages assets asynchronously: an activation request only
// queues the work, and the asset becomes downloadable some minutes later.
// Tracker requests activation once and then polls the asset status on a fixed
// interval until the asset is active, the remote side reports failure, or the
// wait budget runs out.
package activation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"planet-fetch/planet"

	log "github.com/sirupsen/logrus"
)

// State of a Handle. Transitions only move forward:
//
//	not_requested -> activating -> active
//	                            -> failed
//
// not_requested may also fail directly when the request is rejected.
type State string

const (
	NotRequested State = "not_requested"
	Activating   State = "activating"
	Active       State = "active"
	Failed       State = "failed"
)

func (s State) Terminal() bool {
	return s == Active || s == Failed
}

// Reason explains a Failed handle.
type Reason string

const (
	ReasonRejected  Reason = "rejected"
	ReasonTimeout   Reason = "timeout"
	ReasonPollError Reason = "poll_error"
	ReasonCancelled Reason = "cancelled"
)

// ErrIllegalTransition is returned when a handle is asked to move backwards
// or out of a terminal state.
var ErrIllegalTransition = errors.New("activation: illegal state transition")

// Service is the part of the asset API needed for activation.
type Service interface {
	RequestActivation(ctx context.Context, itemType, itemID, assetType string) error
	AssetStatus(ctx context.Context, itemType, itemID, assetType string) (*planet.AssetStatus, error)
}

// ActivationRequestFailed means the service refused to activate the asset.
type ActivationRequestFailed struct {
	ItemID    string
	AssetType string
	Cause     error
}

func (e *ActivationRequestFailed) Error() string {
	return fmt.Sprintf("activation of %s/%s rejected: %v", e.ItemID, e.AssetType, e.Cause)
}

func (e *ActivationRequestFailed) Unwrap() error { return e.Cause }

// ActivationTimeout means the asset did not become active within MaxWait.
type ActivationTimeout struct {
	ItemID    string
	AssetType string
	Waited    time.Duration
}

func (e *ActivationTimeout) Error() string {
	return fmt.Sprintf("activation of %s/%s not complete after %v", e.ItemID, e.AssetType, e.Waited)
}

// ActivationPollFailed means status polling kept failing, or the service
// reported the activation itself as failed.
type ActivationPollFailed struct {
	ItemID    string
	AssetType string
	Cause     error
}

func (e *ActivationPollFailed) Error() string {
	return fmt.Sprintf("activation of %s/%s failed: %v", e.ItemID, e.AssetType, e.Cause)
}

func (e *ActivationPollFailed) Unwrap() error { return e.Cause }

// Handle is one downloadable asset of one item.
type Handle struct {
	ItemID    string
	ItemType  string
	AssetType string

	mu       sync.Mutex
	state    State
	reason   Reason
	location string
	last     *planet.AssetStatus
}

// NewHandle returns a handle in NotRequested.
func NewHandle(itemID, itemType, assetType string) *Handle {
	return &Handle{
		ItemID:    itemID,
		ItemType:  itemType,
		AssetType: assetType,
		state:     NotRequested,
	}
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Reason is empty unless the handle has Failed.
func (h *Handle) Reason() Reason {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// Location is the retrieval URL, set once the handle is Active.
func (h *Handle) Location() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.location
}

// Status is the last asset status seen while polling, or nil.
func (h *Handle) Status() *planet.AssetStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil
	}
	s := *h.last
	return &s
}

func (h *Handle) String() string {
	return h.ItemID + "/" + h.AssetType
}

func allowed(from, to State) bool {
	switch from {
	case NotRequested:
		return to == Activating || to == Failed
	case Activating:
		return to == Active || to == Failed
	}
	return false
}

func (h *Handle) transition(to State, reason Reason, status *planet.AssetStatus) (State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.state
	if !allowed(from, to) {
		return from, fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, h, from, to)
	}
	h.state = to
	if to == Failed {
		h.reason = reason
	}
	if status != nil {
		s := *status
		h.last = &s
		if to == Active {
			h.location = status.Location
		}
	}
	return from, nil
}

// Options configures polling.
type Options struct {
	// PollInterval between status checks. Default: 5s
	PollInterval time.Duration
	// MaxWait is the total time allowed from the first poll to active. Default: 10m
	MaxWait time.Duration
	// MaxPollErrors is how many consecutive transient errors are tolerated
	// before the activation is failed. Default: 5
	MaxPollErrors int
	// OnTransition, when set, is called after every state change.
	OnTransition func(h *Handle, from, to State)
}

// DefaultOptions returns the polling policy used by the CLI.
func DefaultOptions() Options {
	return Options{
		PollInterval:  5 * time.Second,
		MaxWait:       10 * time.Minute,
		MaxPollErrors: 5,
	}
}

// Tracker runs the activation state machine against a Service. A Tracker
// holds no per-asset state and may be shared by many goroutines.
type Tracker struct {
	svc  Service
	opts Options
}

func New(svc Service, opts Options) *Tracker {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = def.MaxWait
	}
	if opts.MaxPollErrors <= 0 {
		opts.MaxPollErrors = def.MaxPollErrors
	}
	return &Tracker{svc: svc, opts: opts}
}

func (t *Tracker) move(h *Handle, to State, reason Reason, status *planet.AssetStatus) error {
	from, err := h.transition(to, reason, status)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"asset": h.String(), "from": from, "to": to}).Debugf("Activation state change")
	if t.opts.OnTransition != nil {
		t.opts.OnTransition(h, from, to)
	}
	return nil
}

func (t *Tracker) fail(h *Handle, reason Reason, cause error) error {
	if err := t.move(h, Failed, reason, nil); err != nil {
		return err
	}
	return cause
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Request asks the service to activate h and moves it to Activating. A
// rejection fails the handle at once. Transient errors are retried on the
// poll interval up to MaxPollErrors times.
func (t *Tracker) Request(ctx context.Context, h *Handle) error {
	if s := h.State(); s != NotRequested {
		return fmt.Errorf("%w: request from %s", ErrIllegalTransition, s)
	}
	var lastErr error
	for attempt := 0; attempt <= t.opts.MaxPollErrors; attempt++ {
		if attempt > 0 {
			if err := t.sleep(ctx, t.opts.PollInterval); err != nil {
				return t.fail(h, ReasonCancelled, err)
			}
		}
		err := t.svc.RequestActivation(ctx, h.ItemType, h.ItemID, h.AssetType)
		if err == nil {
			return t.move(h, Activating, "", nil)
		}
		if ctx.Err() != nil {
			return t.fail(h, ReasonCancelled, ctx.Err())
		}
		if planet.IsClientError(err) {
			return t.fail(h, ReasonRejected, &ActivationRequestFailed{ItemID: h.ItemID, AssetType: h.AssetType, Cause: err})
		}
		log.WithField("asset", h.String()).Warnf("Activation request failed, will retry: %v", err)
		lastErr = err
	}
	return t.fail(h, ReasonPollError, &ActivationPollFailed{ItemID: h.ItemID, AssetType: h.AssetType, Cause: lastErr})
}

// Poll waits for an Activating handle to become Active. The first status
// check happens one interval after the call, never immediately, since a
// freshly requested asset is never ready yet.
func (t *Tracker) Poll(ctx context.Context, h *Handle) error {
	if s := h.State(); s != Activating {
		return fmt.Errorf("%w: poll from %s", ErrIllegalTransition, s)
	}
	start := time.Now()
	deadline := start.Add(t.opts.MaxWait)
	errorsInARow := 0
	for {
		wait := t.opts.PollInterval
		if remain := time.Until(deadline); remain < wait {
			wait = remain
		}
		if wait > 0 {
			if err := t.sleep(ctx, wait); err != nil {
				return t.fail(h, ReasonCancelled, err)
			}
		}

		status, err := t.svc.AssetStatus(ctx, h.ItemType, h.ItemID, h.AssetType)
		switch {
		case err != nil && ctx.Err() != nil:
			return t.fail(h, ReasonCancelled, ctx.Err())
		case err != nil && planet.IsClientError(err):
			return t.fail(h, ReasonPollError, &ActivationPollFailed{ItemID: h.ItemID, AssetType: h.AssetType, Cause: err})
		case err != nil:
			errorsInARow++
			log.WithField("asset", h.String()).Warnf("Status poll %d failed: %v", errorsInARow, err)
			if errorsInARow > t.opts.MaxPollErrors {
				return t.fail(h, ReasonPollError, &ActivationPollFailed{ItemID: h.ItemID, AssetType: h.AssetType, Cause: err})
			}
		case status.Status == planet.AssetActive:
			if status.Location == "" {
				return t.fail(h, ReasonPollError, &ActivationPollFailed{
					ItemID: h.ItemID, AssetType: h.AssetType, Cause: errors.New("active asset has no location"),
				})
			}
			return t.move(h, Active, "", status)
		case status.Status == planet.AssetFailed:
			return t.fail(h, ReasonPollError, &ActivationPollFailed{
				ItemID: h.ItemID, AssetType: h.AssetType, Cause: errors.New("service reported activation failure"),
			})
		default:
			errorsInARow = 0
			log.WithField("asset", h.String()).Debugf("Still %s after %v", status.Status, time.Since(start).Round(time.Second))
		}

		if !time.Now().Before(deadline) {
			return t.fail(h, ReasonTimeout, &ActivationTimeout{ItemID: h.ItemID, AssetType: h.AssetType, Waited: time.Since(start)})
		}
	}
}

// Activate runs Request then Poll.
func (t *Tracker) Activate(ctx context.Context, h *Handle) error {
	if err := t.Request(ctx, h); err != nil {
		return err
	}
	return t.Poll(ctx, h)
}
