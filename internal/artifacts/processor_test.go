package artifacts

import (
	"context"
	"testing"
	"time"

	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/store"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func newProcessor() (*Processor, *store.Store) {
	s := store.New(store.NewMemory())
	return &Processor{
		Store:      s,
		Now:        func() time.Time { return now },
		DefaultURL: "https://example.com/messaging/",
	}, s
}

func yes() *domain.AnalysisResult {
	return &domain.AnalysisResult{
		Decision:        domain.DecisionYes,
		ConfidenceScore: 80,
		Reason:          "went quiet",
		Category:        "Recruiter",
		Reminder:        &domain.ReminderSuggestion{Text: "Ask about the role", SuggestedDate: "2026-05-12"},
	}
}

func TestApplyCreatesOneNotification(t *testing.T) {
	p, s := newProcessor()
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1", DisplayName: "Ana", ContentHash: "h1", Status: domain.StatusActive}

	applied, err := p.Apply(ctx, conv, yes())
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if applied.Notification == nil || !conv.NeedsAction || conv.LastNotifiedHash != "h1" {
		t.Fatalf("expected notification and hash lock, got %+v %+v", applied, conv)
	}
	if applied.Notification.Message != DefaultMessage || applied.Notification.URL != p.DefaultURL {
		t.Fatalf("unexpected notification: %+v", applied.Notification)
	}
	if applied.Notification.Snapshot.DisplayName != "Ana" {
		t.Fatalf("expected snapshot, got %+v", applied.Notification.Snapshot)
	}

	conv.ContentHash = "h2"
	applied, err = p.Apply(ctx, conv, yes())
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if applied.Notification != nil {
		t.Fatalf("expected no second notification")
	}
	if conv.LastNotifiedHash != "h1" {
		t.Fatalf("expected hash lock unchanged without a new notification, got %q", conv.LastNotifiedHash)
	}

	notifications, _ := s.Notifications(ctx)
	if len(notifications) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notifications))
	}
}

func TestApplyDedupesAIReminders(t *testing.T) {
	p, s := newProcessor()
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1", Status: domain.StatusActive}

	first := yes()
	second := yes()
	second.Reminder.Text = "Different wording"
	if _, err := p.Apply(ctx, conv, first); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := p.Apply(ctx, conv, second); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	reminders, _ := s.Reminders(ctx)
	if len(reminders) != 1 {
		t.Fatalf("expected one pending AI reminder, got %d", len(reminders))
	}
	want := time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC)
	if reminders[0].DueDate == nil || !reminders[0].DueDate.Equal(want) {
		t.Fatalf("expected due date %v, got %v", want, reminders[0].DueDate)
	}

	reminders[0].Status = domain.ReminderDone
	if err := s.SaveReminders(ctx, reminders); err != nil {
		t.Fatalf("save reminders failed: %v", err)
	}
	if _, err := p.Apply(ctx, conv, second); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	reminders, _ = s.Reminders(ctx)
	if len(reminders) != 2 {
		t.Fatalf("expected a new reminder after dismissal, got %d", len(reminders))
	}
}

func TestApplyNoClearsNeedsAction(t *testing.T) {
	p, s := newProcessor()
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1", NeedsAction: true, Status: domain.StatusActive}
	if _, err := p.Apply(ctx, conv, &domain.AnalysisResult{Decision: domain.DecisionNo, Category: "Other"}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if conv.NeedsAction {
		t.Fatalf("expected needsAction cleared")
	}
	notifications, _ := s.Notifications(ctx)
	if len(notifications) != 0 {
		t.Fatalf("expected no notifications, got %d", len(notifications))
	}
}

func TestApplyYesOnDismissedConversation(t *testing.T) {
	p, s := newProcessor()
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1", Status: domain.StatusDismissed}
	if _, err := p.Apply(ctx, conv, yes()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if conv.NeedsAction {
		t.Fatalf("expected dismissed conversation to stay inactive")
	}
	notifications, _ := s.Notifications(ctx)
	if len(notifications) != 0 {
		t.Fatalf("expected no notifications, got %d", len(notifications))
	}
}

func TestTriggerDueReminders(t *testing.T) {
	p, s := newProcessor()
	ctx := context.Background()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	if err := s.SaveConversation(ctx, &domain.Conversation{ID: "c1", DisplayName: "Ana"}); err != nil {
		t.Fatalf("save conversation failed: %v", err)
	}
	if err := s.SaveReminders(ctx, []domain.Reminder{
		{ID: "r1", ConversationID: "c1", Text: "call Ana", DueDate: &past, Status: domain.ReminderPending, Source: domain.SourceManual},
		{ID: "r2", ConversationID: "c1", Text: "later", DueDate: &future, Status: domain.ReminderPending, Source: domain.SourceManual},
		{ID: "r3", ConversationID: "c2", Text: "undated", Status: domain.ReminderPending, Source: domain.SourceAI},
	}); err != nil {
		t.Fatalf("save reminders failed: %v", err)
	}

	n, err := p.TriggerDueReminders(ctx)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one triggered reminder, got %d", n)
	}
	reminders, _ := s.Reminders(ctx)
	if reminders[0].Status != domain.ReminderTriggered || reminders[1].Status != domain.ReminderPending {
		t.Fatalf("unexpected reminder states: %+v", reminders)
	}
	notifications, _ := s.Notifications(ctx)
	if len(notifications) != 1 || notifications[0].Category != "Reminder" || notifications[0].Message != "call Ana" {
		t.Fatalf("unexpected notifications: %+v", notifications)
	}

	if n, _ := p.TriggerDueReminders(ctx); n != 0 {
		t.Fatalf("expected no re-trigger, got %d", n)
	}
}

func TestParseDueDate(t *testing.T) {
	if ParseDueDate("") != nil || ParseDueDate("next week") != nil {
		t.Fatalf("expected nil for unparseable dates")
	}
	if d := ParseDueDate("2026-07-01T10:00:00Z"); d == nil || d.Hour() != 10 {
		t.Fatalf("expected RFC 3339 parse, got %v", d)
	}
}
