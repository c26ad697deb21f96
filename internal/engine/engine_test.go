package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pbaille/followup/internal/analyzer"
	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/identity"
	"github.com/pbaille/followup/internal/orchestrator"
	"github.com/pbaille/followup/internal/store"
)

var start = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type flakyBackend struct {
	*store.Memory
	failGet atomic.Bool
}

func (b *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if b.failGet.Load() {
		return nil, errors.New("disk on fire")
	}
	return b.Memory.Get(ctx, key)
}

type recorder struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (r *recorder) Publish(c domain.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

type harness struct {
	engine  *Engine
	store   *store.Store
	backend *flakyBackend
	clock   *clock
	calls   int32
	changes *recorder
}

func newHarness(t *testing.T, decision domain.Decision, confidence int) *harness {
	t.Helper()
	h := &harness{
		backend: &flakyBackend{Memory: store.NewMemory()},
		clock:   &clock{now: start},
		changes: &recorder{},
	}
	h.store = store.New(h.backend)
	h.engine = New(Options{
		Store: h.store,
		Analyzer: analyzer.Func(func(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
			atomic.AddInt32(&h.calls, 1)
			return &domain.AnalysisResult{
				Decision:        decision,
				ConfidenceScore: confidence,
				Reason:          "fake",
				Category:        "Recruiter",
			}, nil
		}),
		Owner:                  identity.OwnerFilter{ProfileID: "ME", Name: "Sam Doe"},
		AnalysisThresholdHours: 24,
		Now:                    h.clock.Now,
		Publisher:              h.changes,
	})
	t.Cleanup(h.engine.Close)
	return h
}

func ownerEvent(at time.Time, text string) domain.RawEvent {
	return domain.RawEvent{
		Text:                    text,
		SenderName:              "Sam Doe",
		SenderIsOwner:           true,
		TimestampMs:             at.UnixMilli(),
		ConversationDisplayName: "Ana Lopez",
		SourceURL:               "https://example.com/messaging/thread/T1/",
		StableIdentifier:        "P1",
	}
}

func partnerEvent(at time.Time, text string) domain.RawEvent {
	ev := ownerEvent(at, text)
	ev.SenderName = "Ana Lopez"
	ev.SenderIsOwner = false
	return ev
}

func TestIngestRejectsInvalidEvents(t *testing.T) {
	h := newHarness(t, domain.DecisionYes, 80)
	ctx := context.Background()

	ack, err := h.engine.Ingest(ctx, domain.RawEvent{Text: "hi", ConversationDisplayName: "Ana"})
	if !errors.Is(err, ErrInvalidEvent) || ack.Success || ack.Error == "" {
		t.Fatalf("expected invalid event ack, got %+v %v", ack, err)
	}
	ack, err = h.engine.Ingest(ctx, domain.RawEvent{Text: "hi", TimestampMs: start.UnixMilli()})
	if !errors.Is(err, ErrInvalidEvent) || ack.Success {
		t.Fatalf("expected invalid event without identity, got %+v %v", ack, err)
	}
	convs, _ := h.store.Conversations(ctx)
	if len(convs) != 0 {
		t.Fatalf("expected no state mutation, got %d conversations", len(convs))
	}
}

func TestIngestDropsSelfTraffic(t *testing.T) {
	h := newHarness(t, domain.DecisionYes, 80)
	ctx := context.Background()
	ev := partnerEvent(start, "hi")
	ev.StableIdentifier = "ME"
	ack, err := h.engine.Ingest(ctx, ev)
	if err != nil || !ack.Success || !ack.Dropped {
		t.Fatalf("expected dropped ack, got %+v %v", ack, err)
	}
	convs, _ := h.store.Conversations(ctx)
	if len(convs) != 0 {
		t.Fatalf("expected self traffic to leave no conversation")
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	h := newHarness(t, domain.DecisionYes, 80)
	ctx := context.Background()
	ev := partnerEvent(start, "are you free?")
	ev.HistoryBatch = []domain.Message{
		{Sender: "Sam Doe", Text: "hello", Timestamp: start.Add(-time.Hour), SentByOwner: true},
		{Sender: "Ana Lopez", Text: "are you free?", Timestamp: start},
	}

	ack, err := h.engine.Ingest(ctx, ev)
	if err != nil || !ack.Created || ack.ID != "P1" {
		t.Fatalf("expected created P1, got %+v %v", ack, err)
	}
	first, _ := h.store.Conversation(ctx, "P1")

	ack, err = h.engine.Ingest(ctx, ev)
	if err != nil || ack.Created {
		t.Fatalf("expected update, got %+v %v", ack, err)
	}
	second, _ := h.store.Conversation(ctx, "P1")
	if len(second.History) != 2 || second.ContentHash != first.ContentHash {
		t.Fatalf("expected identical history, got %d messages", len(second.History))
	}
	if second.LastMessageSentByOwner || second.LastMessageText != "are you free?" {
		t.Fatalf("unexpected denormalized tail: %+v", second)
	}
	if second.ThreadRef != "T1" || !second.HasIdentity("T1") {
		t.Fatalf("expected thread recorded, got %+v", second)
	}
	if atomic.LoadInt32(&h.calls) != 0 {
		t.Fatalf("partner events must not trigger analysis")
	}
}

func TestIngestConsolidatesThreadOnlyEvent(t *testing.T) {
	h := newHarness(t, domain.DecisionYes, 80)
	ctx := context.Background()
	if _, err := h.engine.Ingest(ctx, partnerEvent(start, "hi")); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	ack, err := h.engine.Ingest(ctx, domain.RawEvent{
		Text:             "following up",
		SenderName:       "Ana Lopez",
		TimestampMs:      start.Add(time.Minute).UnixMilli(),
		ThreadIdentifier: "T1",
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if ack.ID != "P1" || ack.Created {
		t.Fatalf("expected merge into P1, got %+v", ack)
	}
	convs, _ := h.store.Conversations(ctx)
	if len(convs) != 1 {
		t.Fatalf("expected a single conversation, got %d", len(convs))
	}
	if convs["P1"].LastMessageText != "following up" {
		t.Fatalf("expected tail updated, got %q", convs["P1"].LastMessageText)
	}
}

func TestOwnerEventTriggersAnalysisAndSingleNotification(t *testing.T) {
	h := newHarness(t, domain.DecisionYes, 80)
	ctx := context.Background()

	ack, err := h.engine.Ingest(ctx, ownerEvent(start, "hello, still interested?"))
	if err != nil || !ack.Success {
		t.Fatalf("ingest failed: %+v %v", ack, err)
	}
	h.engine.Wait()

	if calls := atomic.LoadInt32(&h.calls); calls != 1 {
		t.Fatalf("expected one analyzer call, got %d", calls)
	}
	conv, _ := h.store.Conversation(ctx, "P1")
	if !conv.NeedsAction {
		t.Fatalf("expected needsAction after YES")
	}

	h.clock.Advance(25 * time.Hour)
	report, err := h.engine.Rescan(ctx)
	if err != nil {
		t.Fatalf("rescan failed: %v", err)
	}
	if report.Analyzed != 1 {
		t.Fatalf("expected the missing-hash conversation to be re-analyzed, got %+v", report)
	}
	notifications, _ := h.store.Notifications(ctx)
	if len(notifications) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notifications))
	}
	if h.engine.Busy() {
		t.Fatalf("expected idle after rescan")
	}
	if busy, _ := h.store.IsAnalyzing(ctx); busy {
		t.Fatalf("expected persisted busy flag cleared")
	}
}

func TestOwnerEventReactivatesDismissedConversation(t *testing.T) {
	h := newHarness(t, domain.DecisionNo, 90)
	ctx := context.Background()
	if _, err := h.engine.Ingest(ctx, partnerEvent(start, "hi")); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if err := h.engine.DismissConversation(ctx, "P1"); err != nil {
		t.Fatalf("dismiss failed: %v", err)
	}

	if _, err := h.engine.Ingest(ctx, partnerEvent(start.Add(time.Minute), "again")); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	conv, _ := h.store.Conversation(ctx, "P1")
	if conv.Status != domain.StatusDismissed {
		t.Fatalf("expected partner event to keep dismissal")
	}

	if _, err := h.engine.Ingest(ctx, ownerEvent(start.Add(2*time.Minute), "reply")); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	h.engine.Wait()
	conv, _ = h.store.Conversation(ctx, "P1")
	if conv.Status != domain.StatusActive {
		t.Fatalf("expected owner event to reactivate, got %s", conv.Status)
	}
}

func TestConcurrentIngestKeepsEveryMessage(t *testing.T) {
	h := newHarness(t, domain.DecisionNo, 90)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := start.Add(time.Duration(i) * time.Minute)
			ev := partnerEvent(at, fmt.Sprintf("m%d", i))
			ev.HistoryBatch = []domain.Message{{Sender: "Ana Lopez", Text: ev.Text, Timestamp: at}}
			if _, err := h.engine.Ingest(ctx, ev); err != nil {
				t.Errorf("ingest failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	conv, err := h.store.Conversation(ctx, "P1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(conv.History) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(conv.History))
	}
	for i := 1; i < len(conv.History); i++ {
		if conv.History[i].Timestamp.Before(conv.History[i-1].Timestamp) {
			t.Fatalf("history out of order at %d", i)
		}
	}
	if conv.LastMessageText != "m19" {
		t.Fatalf("expected newest tail, got %q", conv.LastMessageText)
	}
}

func TestIngestDuringAnalysisStaysPending(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory())
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var calls int32
	eng := New(Options{
		Store: st,
		Analyzer: analyzer.Func(func(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(entered)
				<-unblock
			}
			return &domain.AnalysisResult{Decision: domain.DecisionYes, ConfidenceScore: 90, Reason: "fake", Category: "Recruiter"}, nil
		}),
		Owner: identity.OwnerFilter{ProfileID: "ME", Name: "Sam Doe"},
		Now:   func() time.Time { return start },
	})
	t.Cleanup(eng.Close)

	first := ownerEvent(start.Add(-2*time.Hour), "hello")
	first.HistoryBatch = []domain.Message{
		{Sender: "Ana Lopez", Text: "let's talk", Timestamp: start.Add(-3 * time.Hour)},
		{Sender: "Sam Doe", Text: "hello", SentByOwner: true, Timestamp: start.Add(-2 * time.Hour)},
	}
	if _, err := eng.Ingest(ctx, first); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	<-entered

	second := ownerEvent(start.Add(-time.Hour), "any news?")
	second.HistoryBatch = []domain.Message{{Sender: "Sam Doe", Text: "any news?", SentByOwner: true, Timestamp: start.Add(-time.Hour)}}
	ack, err := eng.Ingest(ctx, second)
	if err != nil || !ack.Success {
		t.Fatalf("expected ingest to succeed while analysis runs, got %+v %v", ack, err)
	}
	close(unblock)
	eng.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected the in-flight analysis to absorb the second trigger, got %d calls", n)
	}
	conv, err := st.Conversation(ctx, "P1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(conv.History) != 3 || conv.LastMessageText != "any news?" {
		t.Fatalf("expected both owner messages kept, got %+v", conv.History)
	}
	if conv.LastNotifiedHash == "" || conv.LastNotifiedHash == conv.ContentHash {
		t.Fatalf("expected hash-lock on the analyzed content only, got %q vs %q", conv.LastNotifiedHash, conv.ContentHash)
	}
	if !conv.HistoryChangedSinceAnalysis {
		t.Fatalf("expected unanalyzed change flagged")
	}

	outcome, err := eng.Reanalyze(ctx, "P1")
	if err != nil || outcome != orchestrator.OutcomeAnalyzed {
		t.Fatalf("expected pending content analyzed, got %s %v", outcome, err)
	}
	logs, _ := st.AnalysisLogs(ctx)
	if len(logs) != 2 || logs[0].TriggerReason != "content-changed" {
		t.Fatalf("unexpected analysis logs: %+v", logs)
	}
	notifications, _ := st.Notifications(ctx)
	if len(notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifications))
	}
}

func TestRescanFailureResetsGuards(t *testing.T) {
	h := newHarness(t, domain.DecisionYes, 80)
	ctx := context.Background()
	if _, held := h.engine.debounce.TryAcquire("stuck"); !held {
		t.Fatalf("expected acquire")
	}
	h.engine.busy.Inc()

	h.backend.failGet.Store(true)
	if _, err := h.engine.Rescan(ctx); err == nil {
		t.Fatalf("expected rescan failure")
	}
	h.backend.failGet.Store(false)

	if h.engine.Busy() {
		t.Fatalf("expected busy gauge reset")
	}
	if h.engine.debounce.Len() != 0 {
		t.Fatalf("expected debounce set reset")
	}
}

func TestRescanTriggersDueReminders(t *testing.T) {
	h := newHarness(t, domain.DecisionNo, 90)
	ctx := context.Background()
	if _, err := h.engine.Ingest(ctx, partnerEvent(start, "hi")); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	due := start.Add(time.Hour)
	r, err := h.engine.AddManualReminder(ctx, "P1", "call Ana", &due)
	if err != nil {
		t.Fatalf("add reminder failed: %v", err)
	}

	h.clock.Advance(2 * time.Hour)
	report, err := h.engine.Rescan(ctx)
	if err != nil {
		t.Fatalf("rescan failed: %v", err)
	}
	if report.RemindersTriggered != 1 {
		t.Fatalf("expected one reminder triggered, got %+v", report)
	}
	notifications, _ := h.store.Notifications(ctx)
	if len(notifications) != 1 || notifications[0].Reason != "User Reminder due" {
		t.Fatalf("unexpected notifications: %+v", notifications)
	}

	if err := h.engine.DismissReminder(ctx, r.ID); err != nil {
		t.Fatalf("dismiss reminder failed: %v", err)
	}
	reminders, _ := h.store.Reminders(ctx)
	if reminders[0].Status != domain.ReminderDone {
		t.Fatalf("expected reminder done, got %s", reminders[0].Status)
	}
	notifications, _ = h.store.Notifications(ctx)
	if len(notifications) != 0 {
		t.Fatalf("expected notifications cleared, got %d", len(notifications))
	}
}

func TestCommands(t *testing.T) {
	h := newHarness(t, domain.DecisionYes, 80)
	ctx := context.Background()
	if _, err := h.engine.Ingest(ctx, ownerEvent(start, "hello")); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	h.engine.Wait()

	st, err := h.engine.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if st.Conversations != 1 || st.NeedsAction != 1 || st.Badge != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}

	notifications, _ := h.engine.Notifications(ctx)
	if err := h.engine.MarkNotificationRead(ctx, notifications[0].ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if err := h.engine.MarkNotificationRead(ctx, notifications[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := h.engine.AddManualReminder(ctx, "P1", "  ", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := h.engine.AddManualReminder(ctx, "nope", "text", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := h.engine.DismissReminder(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := h.engine.DismissConversation(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.engine.Reanalyze(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	outcome, err := h.engine.Reanalyze(ctx, "P1")
	if err != nil || outcome != orchestrator.OutcomeAnalyzed {
		t.Fatalf("expected forced analysis, got %s %v", outcome, err)
	}
	outcomes, err := h.engine.ReanalyzeAll(ctx)
	if err != nil || outcomes["P1"] != orchestrator.OutcomeAnalyzed {
		t.Fatalf("expected P1 re-analyzed, got %v %v", outcomes, err)
	}

	if err := h.engine.DismissConversation(ctx, "P1"); err != nil {
		t.Fatalf("dismiss failed: %v", err)
	}
	conv, _ := h.engine.Conversation(ctx, "P1")
	if conv.NeedsAction || conv.Status != domain.StatusDismissed {
		t.Fatalf("unexpected state after dismiss: %+v", conv)
	}
	if notifications, _ := h.engine.Notifications(ctx); len(notifications) != 0 {
		t.Fatalf("expected notifications removed, got %d", len(notifications))
	}
	outcomes, _ = h.engine.ReanalyzeAll(ctx)
	if len(outcomes) != 0 {
		t.Fatalf("expected dismissed conversation skipped, got %v", outcomes)
	}

	h.changes.mu.Lock()
	defer h.changes.mu.Unlock()
	if len(h.changes.changes) == 0 {
		t.Fatalf("expected published changes")
	}
}
