// Package batchsync implements the adaptive-concurrency batch synchronizer:
// large key sets are reconciled in concurrent chunks whose size reacts to
// observed throttling, with unresolved work re-driven through bounded retry
// passes.
package batchsync

import (
	"context"
	"fmt"
	"time"
)

// Action is the closed set of per-key outcomes.
type Action int

const (
	// ActionUpdated means the target record was rewritten.
	ActionUpdated Action = iota
	// ActionNoChange means the value already matched the target.
	ActionNoChange
	// ActionSkipped means the key had no comparison baseline and was left
	// alone; skipped keys are never retried.
	ActionSkipped
	// ActionFailed means the key ended in a terminal failure.
	ActionFailed
)

// String returns the wire representation of an Action.
func (a Action) String() string {
	switch a {
	case ActionUpdated:
		return "updated"
	case ActionNoChange:
		return "no_change"
	case ActionSkipped:
		return "skipped"
	case ActionFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// Outcome is what a Worker reports for one key on success.
type Outcome struct {
	Action Action
	// Old and New carry the replaced and written values for ActionUpdated.
	Old string
	New string
	// Reason explains an ActionSkipped outcome.
	Reason string
}

// Worker reconciles a single key.  A non-nil error is classified by
// internal/reliability: recoverable failures are re-driven in later passes,
// terminal ones are recorded as ActionFailed.  force requests an
// unconditional rewrite even when the value already matches.
type Worker func(ctx context.Context, key string, force bool) (Outcome, error)

// Options tunes one SyncMany invocation.  Zero fields fall back to the
// synchronizer's configured defaults.
type Options struct {
	InitialConcurrency int
	FloorConcurrency   int
	CeilingConcurrency int

	// MaxRetries bounds the additional passes re-driving recoverable failures.
	MaxRetries int

	// RetryDelay is the base wait between passes.
	RetryDelay time.Duration

	// Force rewrites values even when they already match the target.
	Force bool
}

// KeyResult is the final per-key outcome of a run.
type KeyResult struct {
	Key      string `json:"key"`
	Action   string `json:"action"`
	Old      string `json:"old,omitempty"`
	New      string `json:"new,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
}

// Summary aggregates a whole SyncMany run.
type Summary struct {
	RunID        string        `json:"run_id"`
	Total        int           `json:"total"`
	Updated      int           `json:"updated"`
	NoChange     int           `json:"no_change"`
	Skipped      int           `json:"skipped"`
	Errors       int           `json:"errors"`
	StillFailing int           `json:"still_failing"`
	Passes       int           `json:"passes"`
	Duration     time.Duration `json:"duration"`
	Details      []KeyResult   `json:"details"`
}

// Metrics is the observation hook the synchronizer reports into.
// NewNopMetrics is used in tests; the Prometheus implementation lives in
// internal/infrastructure/monitoring/prometheus.
type Metrics interface {
	SyncRunStarted()
	SyncRunCompleted(duration time.Duration, passes int)
	SyncKeyResolved(action string)
	SetSyncConcurrency(n int)
	SyncRateLimitSignal()
}

type nopMetrics struct{}

func (nopMetrics) SyncRunStarted()                     {}
func (nopMetrics) SyncRunCompleted(time.Duration, int) {}
func (nopMetrics) SyncKeyResolved(string)              {}
func (nopMetrics) SetSyncConcurrency(int)              {}
func (nopMetrics) SyncRateLimitSignal()                {}

// NewNopMetrics returns a Metrics implementation that discards everything.
func NewNopMetrics() Metrics { return nopMetrics{} }
