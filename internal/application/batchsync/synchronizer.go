package batchsync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
	"github.com/syncbridge/syncbridge/internal/reliability"
	"github.com/syncbridge/syncbridge/pkg/errors"
)

// Synchronizer runs adaptive-concurrency batch reconciliation jobs.
// It is stateless across runs; all run state (the concurrency controller and
// the per-key ledger) lives on the stack of SyncMany.
type Synchronizer struct {
	cfg     config.SyncConfig
	logger  logging.Logger
	metrics Metrics

	// sleep is swapped in tests to avoid real inter-chunk waits.
	sleep func(time.Duration)
}

// New constructs a Synchronizer with the given defaults.  A nil metrics hook
// is replaced by the no-op implementation.
func New(cfg config.SyncConfig, logger logging.Logger, metrics Metrics) *Synchronizer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = NewNopMetrics()
	}
	return &Synchronizer{
		cfg:     cfg,
		logger:  logger.Named("batchsync"),
		metrics: metrics,
		sleep:   time.Sleep,
	}
}

// resolveOptions fills zero option fields from the configured defaults and
// validates the concurrency window.
func (s *Synchronizer) resolveOptions(opts Options) (Options, error) {
	if opts.InitialConcurrency == 0 {
		opts.InitialConcurrency = s.cfg.InitialConcurrency
	}
	if opts.FloorConcurrency == 0 {
		opts.FloorConcurrency = s.cfg.FloorConcurrency
	}
	if opts.CeilingConcurrency == 0 {
		opts.CeilingConcurrency = s.cfg.CeilingConcurrency
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = s.cfg.MaxRetries
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = s.cfg.RetryDelay
	}

	if opts.FloorConcurrency < 1 {
		return opts, errors.New(errors.ErrCodeSyncInvalidOption, "floor concurrency must be ≥ 1")
	}
	if opts.InitialConcurrency < opts.FloorConcurrency ||
		opts.CeilingConcurrency < opts.InitialConcurrency {
		return opts, errors.New(errors.ErrCodeSyncInvalidOption,
			"concurrency window must satisfy floor ≤ initial ≤ ceiling")
	}
	return opts, nil
}

// dedupeKeys drops repeated keys, keeping first-occurrence order.
func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// keyState is the per-key ledger entry accumulated across passes.
type keyState struct {
	result      KeyResult
	recoverable bool
}

// SyncMany reconciles every key through the supplied worker.
//
// Keys are dispatched in sequential chunks sized by the live concurrency
// value.  A chunk containing at least one rate-limit signal halves the
// concurrency and delays the next chunk; a clean chunk grows it by one step.
// Recoverable failures are re-driven through up to MaxRetries additional
// passes at reduced concurrency.  Duplicate keys are collapsed before the
// first pass.  Per-key failures never propagate as an error; every distinct
// key ends in exactly one Details entry.
func (s *Synchronizer) SyncMany(ctx context.Context, keys []string, worker Worker, opts Options) (*Summary, error) {
	if worker == nil {
		return nil, errors.InvalidParam("worker must not be nil")
	}
	opts, err := s.resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	// Repeated keys are one unit of work; the first occurrence keeps its
	// position and later ones are folded into it.
	keys = dedupeKeys(keys)

	runID := uuid.NewString()
	log := s.logger.With(logging.String("run_id", runID))
	started := time.Now()

	s.metrics.SyncRunStarted()
	log.Info("batch sync started",
		logging.Int("keys", len(keys)),
		logging.Int("concurrency", opts.InitialConcurrency))

	ledger := make(map[string]*keyState, len(keys))
	for _, k := range keys {
		ledger[k] = &keyState{result: KeyResult{Key: k}}
	}

	ctrl := newController(opts.InitialConcurrency, opts.FloorConcurrency, opts.CeilingConcurrency)
	s.metrics.SetSyncConcurrency(ctrl.Current())

	pending := keys
	passes := 0
	passDelay := opts.RetryDelay

	for {
		sawSignal := s.runPass(ctx, pending, worker, opts.Force, ctrl, ledger, opts.RetryDelay, log)
		passes++

		pending = pending[:0:0]
		for _, k := range keys {
			if st := ledger[k]; st.recoverable {
				pending = append(pending, k)
			}
		}
		if len(pending) == 0 || passes > opts.MaxRetries {
			break
		}

		// A pass that still saw throttling extends the wait before the next.
		if sawSignal {
			passDelay *= 2
		}
		ctrl.ReduceForRetryPass()
		s.metrics.SetSyncConcurrency(ctrl.Current())
		log.Info("retry pass scheduled",
			logging.Int("pass", passes),
			logging.Int("unresolved", len(pending)),
			logging.Int("concurrency", ctrl.Current()),
			logging.Duration("delay", passDelay))
		s.sleep(passDelay)
	}

	sum := s.summarize(runID, keys, ledger, passes, time.Since(started))
	s.metrics.SyncRunCompleted(sum.Duration, sum.Passes)
	log.Info("batch sync finished",
		logging.Int("updated", sum.Updated),
		logging.Int("no_change", sum.NoChange),
		logging.Int("skipped", sum.Skipped),
		logging.Int("errors", sum.Errors),
		logging.Int("still_failing", sum.StillFailing),
		logging.Int("passes", sum.Passes))
	return sum, nil
}

// runPass drives one pass over keys, chunk by chunk, adjusting the
// controller between chunks.  It returns whether any chunk carried a
// rate-limit signal.
func (s *Synchronizer) runPass(
	ctx context.Context,
	keys []string,
	worker Worker,
	force bool,
	ctrl *controller,
	ledger map[string]*keyState,
	baseWait time.Duration,
	log logging.Logger,
) bool {
	sawSignal := false

	for start := 0; start < len(keys); {
		size := ctrl.Current()
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		start = end

		rateLimited, maxSuggested := s.runChunk(ctx, chunk, worker, force, ledger)

		if rateLimited {
			sawSignal = true
			s.metrics.SyncRateLimitSignal()
			wait := ctrl.OnRateLimited(maxSuggested, baseWait)
			s.metrics.SetSyncConcurrency(ctrl.Current())
			log.Warn("rate limit observed, throttling",
				logging.Int("concurrency", ctrl.Current()),
				logging.Duration("wait", wait))
			if start < len(keys) {
				s.sleep(wait)
			}
		} else {
			ctrl.OnCleanChunk()
			s.metrics.SetSyncConcurrency(ctrl.Current())
		}
	}
	return sawSignal
}

// runChunk executes every key of one chunk concurrently and folds the
// outcomes into the ledger.  Concurrency adjustment never happens mid-chunk;
// chunk boundaries are the only synchronization points.
func (s *Synchronizer) runChunk(
	ctx context.Context,
	chunk []string,
	worker Worker,
	force bool,
	ledger map[string]*keyState,
) (rateLimited bool, maxSuggested time.Duration) {
	type itemOutcome struct {
		key      string
		outcome  Outcome
		err      error
		decision reliability.Decision
	}

	resultCh := make(chan itemOutcome, len(chunk))
	var wg sync.WaitGroup
	for _, key := range chunk {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			out, err := worker(ctx, key, force)
			resultCh <- itemOutcome{
				key:      key,
				outcome:  out,
				err:      err,
				decision: reliability.Classify(err),
			}
		}(key)
	}
	wg.Wait()
	close(resultCh)

	for item := range resultCh {
		st := ledger[item.key]
		st.result.Attempts++

		switch {
		case item.err == nil:
			st.recoverable = false
			st.result.Action = item.outcome.Action.String()
			st.result.Old = item.outcome.Old
			st.result.New = item.outcome.New
			st.result.Reason = item.outcome.Reason
			st.result.Error = ""

		case item.decision.Retryable:
			st.recoverable = true
			st.result.Error = item.err.Error()
			if item.decision.RateLimited {
				rateLimited = true
				if item.decision.SuggestedDelay > maxSuggested {
					maxSuggested = item.decision.SuggestedDelay
				}
			}

		default:
			st.recoverable = false
			st.result.Action = ActionFailed.String()
			st.result.Error = item.err.Error()
		}
	}
	return rateLimited, maxSuggested
}

// summarize folds the ledger into the run summary, preserving input order in
// Details.  Keys still recoverable after the final pass are counted as
// StillFailing; their detail entry reads "failed" with the last error kept.
func (s *Synchronizer) summarize(
	runID string,
	keys []string,
	ledger map[string]*keyState,
	passes int,
	duration time.Duration,
) *Summary {
	sum := &Summary{
		RunID:    runID,
		Total:    len(keys),
		Passes:   passes,
		Duration: duration,
		Details:  make([]KeyResult, 0, len(keys)),
	}
	for _, k := range keys {
		st := ledger[k]
		if st.recoverable {
			sum.StillFailing++
			st.result.Action = ActionFailed.String()
			s.metrics.SyncKeyResolved("still_failing")
		} else {
			switch st.result.Action {
			case "updated":
				sum.Updated++
			case "no_change":
				sum.NoChange++
			case "skipped":
				sum.Skipped++
			case "failed":
				sum.Errors++
			}
			s.metrics.SyncKeyResolved(st.result.Action)
		}
		sum.Details = append(sum.Details, st.result)
	}
	return sum
}
