package download

import (
	"fmt"
	"sort"
	"strings"

	"planet-fetch/activation"
	"planet-fetch/planet"
)

// Status of a Task. Tasks start pending and end succeeded or failed.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Succeeded  Status = "succeeded"
	Failed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Failure reasons beyond those of activation.Reason.
const (
	ReasonTransfer   = "transfer_error"
	ReasonFilesystem = "filesystem_error"
	ReasonCancelled  = string(activation.ReasonCancelled)
)

// Task is the download of one asset of one item. Fields are owned by the
// Coordinator while Run is in progress; read them after Run returns, or use
// Coordinator.Snapshot meanwhile.
type Task struct {
	Item  planet.ItemRecord
	Asset *activation.Handle
	// Path is the destination file, set once known.
	Path   string
	Status Status
	// Reason is a short failure code, empty on success.
	Reason string
	Err    error
	// Skipped is set when an existing file was accepted without downloading.
	Skipped bool
	Bytes   int64
	MD5     string
}

// TaskSnapshot is a point-in-time copy of a Task, safe to hand to other goroutines.
type TaskSnapshot struct {
	ItemID     string `json:"item_id"`
	AssetType  string `json:"asset_type"`
	Activation string `json:"activation"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	Path       string `json:"path,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
}

func (t *Task) snapshot() TaskSnapshot {
	s := TaskSnapshot{
		ItemID:     t.Item.ID(),
		AssetType:  t.Asset.AssetType,
		Activation: string(t.Asset.State()),
		Status:     string(t.Status),
		Reason:     t.Reason,
		Path:       t.Path,
		Skipped:    t.Skipped,
		Bytes:      t.Bytes,
	}
	if t.Err != nil {
		s.Error = t.Err.Error()
	}
	return s
}

// Failure is one failed item in a Summary.
type Failure struct {
	ItemID  string
	Reason  string
	Message string
}

// Summary tallies the outcome of a batch.
type Summary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Failures  []Failure
	// ByReason counts failures per reason code.
	ByReason map[string]int
}

// Summarize counts tasks by outcome. Non-terminal tasks count as failed.
func Summarize(tasks []*Task) Summary {
	s := Summary{Total: len(tasks), ByReason: make(map[string]int)}
	for _, t := range tasks {
		switch t.Status {
		case Succeeded:
			s.Succeeded++
			if t.Skipped {
				s.Skipped++
			}
		default:
			s.Failed++
			reason := t.Reason
			if reason == "" {
				reason = "unknown"
			}
			msg := ""
			if t.Err != nil {
				msg = t.Err.Error()
			}
			s.ByReason[reason]++
			s.Failures = append(s.Failures, Failure{ItemID: t.Item.ID(), Reason: reason, Message: msg})
		}
	}
	return s
}

// Partial reports a batch where some items failed and some succeeded.
func (s Summary) Partial() bool {
	return s.Failed > 0 && s.Succeeded > 0
}

// Err returns a *PartialBatchFailure when anything failed, else nil.
func (s Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return &PartialBatchFailure{Summary: s}
}

func (s Summary) String() string {
	str := fmt.Sprintf("%d items: %d succeeded (%d already present), %d failed", s.Total, s.Succeeded, s.Skipped, s.Failed)
	if len(s.ByReason) == 0 {
		return str
	}
	var reasons []string
	for r, n := range s.ByReason {
		reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
	}
	sort.Strings(reasons)
	return str + " [" + strings.Join(reasons, " ") + "]"
}

// PartialBatchFailure is reported when one or more items of a batch failed.
type PartialBatchFailure struct {
	Summary Summary
}

func (e *PartialBatchFailure) Error() string {
	return "batch incomplete: " + e.Summary.String()
}
