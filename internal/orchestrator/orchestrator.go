// Package orchestrator runs at most one analysis per conversation at a
// time and writes the outcome back to the store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/followup/internal/analyzer"
	"github.com/pbaille/followup/internal/artifacts"
	"github.com/pbaille/followup/internal/cadence"
	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/guard"
	"github.com/pbaille/followup/internal/history"
	"github.com/pbaille/followup/internal/metrics"
	"github.com/pbaille/followup/internal/store"
)

// Outcome describes what an Analyze call did.
type Outcome string

const (
	OutcomeAnalyzed   Outcome = "analyzed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeInProgress Outcome = "in_progress"
	OutcomeFailed     Outcome = "failed"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeDisabled   Outcome = "disabled"
)

const (
	lowContextHistory    = 2
	lowContextConfidence = 60
	lowContextReason     = "low confidence in low context"
	historyWindow        = 15
)

// Orchestrator wires the cadence policy, the analyzer and the artifact
// processor under the shared concurrency guards.
type Orchestrator struct {
	Store     *store.Store
	Lock      *guard.StoreLock
	Debounce  *guard.Debounce
	Busy      *guard.BusyGauge
	Policy    *cadence.Policy
	Analyzer  analyzer.Analyzer
	Artifacts *artifacts.Processor
	Now       func() time.Time
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Publish   func(domain.Change)
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Orchestrator) publish(kind domain.ChangeKind, convID string) {
	if o.Publish != nil {
		o.Publish(domain.Change{Kind: kind, ConversationID: convID, At: o.now()})
	}
}

// Analyze runs one analysis pass for the conversation id. A concurrent
// call for the same id returns OutcomeInProgress without contacting the
// analyzer. Analyzer failures are logged and reported as OutcomeFailed
// with a nil error; only storage failures are returned.
func (o *Orchestrator) Analyze(ctx context.Context, id string, forceThresholdHours float64) (outcome Outcome, err error) {
	defer func() { o.Metrics.AnalysisDone(string(outcome)) }()

	if o.Analyzer == nil {
		return OutcomeDisabled, nil
	}

	release, ok := o.Debounce.TryAcquire(id)
	if !ok {
		o.logger().Debug("analysis_in_progress", "conversation", id)
		return OutcomeInProgress, nil
	}
	defer release()

	conv, err := o.Store.Conversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeNotFound, err
	}
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load conversation: %w", err)
	}

	due, reason := o.Policy.ShouldAnalyze(conv, forceThresholdHours)
	if !due {
		o.logger().Debug("analysis_skipped", "conversation", id, "reason", reason)
		return OutcomeSkipped, nil
	}

	started := o.now()
	analyzedHash := conv.ContentHash
	req := BuildRequest(conv, started)
	o.logger().Info("analysis_started", "conversation", id, "trigger", reason)

	result, aerr := o.callAnalyzer(ctx, req)
	if aerr == nil {
		ApplyLowContextFilter(len(conv.History), result)
	}
	elapsed := o.now().Sub(started)

	var applied artifacts.Applied
	err = o.Lock.WithLock(ctx, func(ctx context.Context) error {
		fresh, err := o.Store.Conversation(ctx, id)
		if err != nil {
			return err
		}
		analyzedAt := o.now()
		fresh.LastAnalyzedAt = &analyzedAt
		fresh.UpdatedAt = analyzedAt

		if aerr != nil {
			return o.Store.SaveConversation(ctx, fresh)
		}

		fresh.HistoryChangedSinceAnalysis = fresh.ContentHash != analyzedHash
		fresh.Analysis = &domain.Analysis{
			Decision:      result.Decision,
			Category:      result.Category,
			Confidence:    result.ConfidenceScore,
			Scenario:      result.ScenarioType,
			SampleMessage: result.SampleFollowUpMessage,
			Reason:        result.Reason,
			AnalyzedAt:    analyzedAt,
		}
		applied, err = o.Artifacts.ApplyAt(ctx, fresh, analyzedHash, result)
		if err != nil {
			return fmt.Errorf("apply artifacts: %w", err)
		}
		if err := o.Store.SaveConversation(ctx, fresh); err != nil {
			return err
		}
		return o.Store.AppendAnalysisLog(ctx, domain.AnalysisLogEntry{
			ID:               uuid.New().String(),
			ConversationID:   id,
			ConversationName: fresh.DisplayName,
			TriggerReason:    string(reason),
			Decision:         result.Decision,
			Reason:           result.Reason,
			Confidence:       result.ConfidenceScore,
			Timestamp:        analyzedAt,
			ProcessingTimeMs: elapsed.Milliseconds(),
		})
	})
	if err != nil {
		o.logger().Error("analysis_persist_failed", "conversation", id, "error", err)
		return OutcomeFailed, fmt.Errorf("persist analysis: %w", err)
	}

	o.publish(domain.ChangeConversation, id)
	if applied.Reminder != nil {
		o.publish(domain.ChangeReminder, id)
	}
	if applied.Notification != nil {
		o.publish(domain.ChangeNotification, id)
	}

	if aerr != nil {
		o.logger().Warn("analysis_failed", "conversation", id, "trigger", reason, "error", aerr)
		return OutcomeFailed, nil
	}
	o.logger().Info("analysis_completed", "conversation", id, "trigger", reason,
		"decision", result.Decision, "confidence", result.ConfidenceScore, "duration_ms", elapsed.Milliseconds())
	return OutcomeAnalyzed, nil
}

// callAnalyzer brackets the analyzer call with the busy gauge.
func (o *Orchestrator) callAnalyzer(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	o.Busy.Inc()
	defer o.Busy.Dec()
	result, err := o.Analyzer.Analyze(ctx, req)
	if err == nil && result == nil {
		err = fmt.Errorf("%w: empty result", analyzer.ErrInvalidResponse)
	}
	return result, err
}

// ApplyLowContextFilter downgrades a weak YES on a near-empty history to NO.
func ApplyLowContextFilter(historyLen int, result *domain.AnalysisResult) bool {
	if historyLen < lowContextHistory &&
		result.ConfidenceScore < lowContextConfidence &&
		result.Decision == domain.DecisionYes {
		result.Decision = domain.DecisionNo
		result.Reason = lowContextReason
		return true
	}
	return false
}

// BuildRequest assembles the analyzer context for conv as of now.
func BuildRequest(conv *domain.Conversation, now time.Time) domain.AnalysisRequest {
	recent := conv.History
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}

	run := history.ConsecutiveOwnerRun(conv.History)
	drafts := make([]domain.FollowUpDraft, 0, len(run))
	for i := len(run) - 1; i >= 0; i-- {
		drafts = append(drafts, domain.FollowUpDraft{Date: run[i].Timestamp, Message: run[i].Text})
	}

	var prev domain.PreviousAnalysis
	if a := conv.Analysis; a != nil {
		prev = domain.PreviousAnalysis{
			Decision: string(a.Decision),
			Reason:   a.Reason,
			Category: a.Category,
			Date:     a.AnalyzedAt.Format("2006-01-02"),
		}
	}

	var days float64
	if !conv.LastMessageTimestamp.IsZero() {
		days = now.Sub(conv.LastMessageTimestamp).Hours() / 24
	}

	return domain.AnalysisRequest{
		ConversationName:       conv.DisplayName,
		LastMessageText:        conv.LastMessageText,
		LastMessageSentByOwner: conv.LastMessageSentByOwner,
		DaysSinceLastMessage:   days,
		History:                append([]domain.Message(nil), recent...),
		HistoryLength:          len(conv.History),
		PriorFollowUpDrafts:    drafts,
		PreviousAnalysis:       prev,
		Now:                    now,
	}
}
