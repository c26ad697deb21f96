// Package engine is the entry point for inbound events, periodic rescans
// and operator commands. It owns the concurrency guards and hands
// eligible conversations to the orchestrator.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pbaille/followup/internal/analyzer"
	"github.com/pbaille/followup/internal/artifacts"
	"github.com/pbaille/followup/internal/cadence"
	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/guard"
	"github.com/pbaille/followup/internal/identity"
	"github.com/pbaille/followup/internal/metrics"
	"github.com/pbaille/followup/internal/orchestrator"
	"github.com/pbaille/followup/internal/store"
)

var (
	// ErrInvalidEvent is returned for events rejected before any mutation.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidInput is returned for malformed operator commands.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a command names an unknown record.
	ErrNotFound = errors.New("not found")
)

// DefaultAnalysisThresholdHours is the rescan threshold when none is set.
const DefaultAnalysisThresholdHours = 24

// Publisher receives a Change after every persisted mutation.
type Publisher interface {
	Publish(domain.Change)
}

// Options configures an Engine. Store is required. A nil Analyzer
// disables analysis while ingestion keeps working. A zero
// AnalysisThresholdHours means DefaultAnalysisThresholdHours.
type Options struct {
	Store                  *store.Store
	Analyzer               analyzer.Analyzer
	Owner                  identity.OwnerFilter
	AnalysisThresholdHours float64
	DefaultURL             string
	Now                    func() time.Time
	Logger                 *slog.Logger
	Metrics                *metrics.Metrics
	Publisher              Publisher
}

// Engine reconciles events into conversations and schedules analyses.
type Engine struct {
	store     *store.Store
	lock      *guard.StoreLock
	debounce  *guard.Debounce
	busy      *guard.BusyGauge
	orch      *orchestrator.Orchestrator
	artifacts *artifacts.Processor
	owner     identity.OwnerFilter
	threshold float64
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher Publisher

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Engine and its guards.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := opts.AnalysisThresholdHours
	if threshold <= 0 {
		threshold = DefaultAnalysisThresholdHours
	}

	e := &Engine{
		store:     opts.Store,
		lock:      guard.NewStoreLock(),
		debounce:  guard.NewDebounce(),
		owner:     opts.Owner,
		threshold: threshold,
		now:       now,
		logger:    logger,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
	}
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	e.busy = guard.NewBusyGauge(e.onBusyChange)
	e.artifacts = &artifacts.Processor{
		Store:      opts.Store,
		Now:        now,
		DefaultURL: opts.DefaultURL,
		Logger:     logger,
		Metrics:    opts.Metrics,
	}
	e.orch = &orchestrator.Orchestrator{
		Store:     opts.Store,
		Lock:      e.lock,
		Debounce:  e.debounce,
		Busy:      e.busy,
		Policy:    &cadence.Policy{Now: now},
		Analyzer:  opts.Analyzer,
		Artifacts: e.artifacts,
		Now:       now,
		Logger:    logger,
		Metrics:   opts.Metrics,
		Publish:   e.publishChange,
	}
	return e
}

// Busy reports whether any analysis is in flight.
func (e *Engine) Busy() bool {
	return e.busy.Busy()
}

// Wait blocks until detached analyses started by Ingest have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels detached analyses and waits for them.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) onBusyChange(count int) {
	e.metrics.SetInFlight(count)
	if err := e.store.SetAnalyzing(context.Background(), count > 0); err != nil {
		e.logger.Warn("busy_flag_persist_failed", "error", err)
	}
	e.publish(domain.ChangeBusy, "")
}

func (e *Engine) publish(kind domain.ChangeKind, convID string) {
	e.publishChange(domain.Change{Kind: kind, ConversationID: convID, At: e.now()})
}

func (e *Engine) publishChange(c domain.Change) {
	if e.publisher != nil {
		e.publisher.Publish(c)
	}
}

// analyzeAsync runs a detached analysis pass for id.
func (e *Engine) analyzeAsync(id string, forceThresholdHours float64) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("analysis_panic", "conversation", id, "panic", r)
			}
		}()
		outcome, err := e.orch.Analyze(e.baseCtx, id, forceThresholdHours)
		if err != nil {
			e.logger.Error("analysis_error", "conversation", id, "outcome", outcome, "error", err)
			return
		}
		e.logger.Debug("analysis_outcome", "conversation", id, "outcome", outcome)
	}()
}
