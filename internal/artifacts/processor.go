// Package artifacts turns analysis decisions into reminders and
// notifications.
package artifacts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/metrics"
	"github.com/pbaille/followup/internal/store"
)

const (
	// DefaultMessage is used when the analyzer proposes no draft.
	DefaultMessage = "Time to follow up!"

	reminderCategory = "Reminder"
	reminderReason   = "User Reminder due"
)

// Processor writes artifacts to the store. Callers hold the store lock.
type Processor struct {
	Store      *store.Store
	Now        func() time.Time
	DefaultURL string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Applied reports which artifacts an Apply call created.
type Applied struct {
	Reminder     *domain.Reminder
	Notification *domain.Notification
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Apply materialises result for conv. conv is mutated (needsAction and the
// notification hash-lock); the caller persists it.
func (p *Processor) Apply(ctx context.Context, conv *domain.Conversation, result *domain.AnalysisResult) (Applied, error) {
	return p.ApplyAt(ctx, conv, conv.ContentHash, result)
}

// ApplyAt is Apply for a result computed from an earlier snapshot of conv.
// A new notification locks analyzedHash, not the current content hash, so
// messages merged while the analyzer ran still count as changed content.
func (p *Processor) ApplyAt(ctx context.Context, conv *domain.Conversation, analyzedHash string, result *domain.AnalysisResult) (Applied, error) {
	var applied Applied

	if result.Reminder != nil && strings.TrimSpace(result.Reminder.Text) != "" {
		r, err := p.addAIReminder(ctx, conv.ID, result.Reminder)
		if err != nil {
			return applied, err
		}
		applied.Reminder = r
	}

	if result.Decision != domain.DecisionYes || conv.Status == domain.StatusDismissed {
		conv.NeedsAction = false
		return applied, nil
	}
	conv.NeedsAction = true

	message := result.SampleFollowUpMessage
	if strings.TrimSpace(message) == "" {
		message = DefaultMessage
	}
	n, err := p.notify(ctx, conv, message, result.Reason, result.Category)
	if err != nil {
		return applied, err
	}
	if n != nil {
		conv.LastNotifiedHash = analyzedHash
		applied.Notification = n
	}
	return applied, nil
}

func (p *Processor) addAIReminder(ctx context.Context, convID string, s *domain.ReminderSuggestion) (*domain.Reminder, error) {
	reminders, err := p.Store.Reminders(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range reminders {
		if r.ConversationID == convID && r.Source == domain.SourceAI && r.Status == domain.ReminderPending {
			return nil, nil
		}
	}

	r := domain.Reminder{
		ID:             uuid.New().String(),
		ConversationID: convID,
		Text:           s.Text,
		DueDate:        ParseDueDate(s.SuggestedDate),
		CreatedAt:      p.now(),
		Source:         domain.SourceAI,
		Status:         domain.ReminderPending,
	}
	if err := p.Store.SaveReminders(ctx, append(reminders, r)); err != nil {
		return nil, err
	}
	p.Metrics.ArtifactCreated("reminder")
	p.logger().Info("reminder_created", "conversation", convID, "reminder", r.ID, "source", r.Source)
	return &r, nil
}

// notify creates a notification unless one already exists for conv.
func (p *Processor) notify(ctx context.Context, conv *domain.Conversation, message, reason, category string) (*domain.Notification, error) {
	notifications, err := p.Store.Notifications(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range notifications {
		if n.ConversationID == conv.ID {
			return nil, nil
		}
	}

	url := conv.URL
	if url == "" {
		url = p.DefaultURL
	}
	n := domain.Notification{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Message:        message,
		Reason:         reason,
		Category:       category,
		CreatedAt:      p.now(),
		URL:            url,
		Snapshot:       Snapshot(conv),
	}
	if err := p.Store.SaveNotifications(ctx, append(notifications, n)); err != nil {
		return nil, err
	}
	p.Metrics.ArtifactCreated("notification")
	p.logger().Info("notification_created", "conversation", conv.ID, "notification", n.ID, "category", category)
	return &n, nil
}

// TriggerDueReminders marks pending reminders due at or before now as
// triggered and raises a notification for each, keeping at most one
// notification per conversation. It returns the number triggered.
func (p *Processor) TriggerDueReminders(ctx context.Context) (int, error) {
	reminders, err := p.Store.Reminders(ctx)
	if err != nil {
		return 0, err
	}
	convs, err := p.Store.Conversations(ctx)
	if err != nil {
		return 0, err
	}

	now := p.now()
	triggered := 0
	for i := range reminders {
		r := &reminders[i]
		if r.Status != domain.ReminderPending || r.DueDate == nil || r.DueDate.After(now) {
			continue
		}
		r.Status = domain.ReminderTriggered
		triggered++

		conv, ok := convs[r.ConversationID]
		if !ok {
			conv = &domain.Conversation{ID: r.ConversationID, DisplayName: r.ConversationID}
		}
		if _, err := p.notify(ctx, conv, r.Text, reminderReason, reminderCategory); err != nil {
			return triggered, err
		}
	}
	if triggered == 0 {
		return 0, nil
	}
	if err := p.Store.SaveReminders(ctx, reminders); err != nil {
		return triggered, err
	}
	p.logger().Info("reminders_triggered", "count", triggered)
	return triggered, nil
}

// Snapshot copies the presentational state of conv for a notification.
func Snapshot(conv *domain.Conversation) domain.ConversationSnapshot {
	s := domain.ConversationSnapshot{
		DisplayName:     conv.DisplayName,
		Headline:        conv.Headline,
		NetworkDistance: conv.NetworkDistance,
		ImageRef:        conv.ImageRef,
		LastMessageText: conv.LastMessageText,
	}
	if a := conv.Analysis; a != nil {
		s.Decision = a.Decision
		s.Confidence = a.Confidence
		s.Scenario = a.Scenario
		s.AnalyzedAt = a.AnalyzedAt
	}
	return s
}

// ParseDueDate accepts YYYY-MM-DD or RFC 3339. Anything else yields nil.
func ParseDueDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
