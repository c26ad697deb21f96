package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/orchestrator"
	"github.com/pbaille/followup/internal/store"
)

// Status summarises the engine state for the presentation layer.
type Status struct {
	Busy             bool `json:"busy"`
	InFlight         int  `json:"inFlight"`
	Conversations    int  `json:"conversations"`
	NeedsAction      int  `json:"needsAction"`
	PendingReminders int  `json:"pendingReminders"`
	Badge            int  `json:"badge"`
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}

// Conversations lists conversations, most recent message first.
func (e *Engine) Conversations(ctx context.Context, needsActionOnly bool) ([]*domain.Conversation, error) {
	convs, err := e.store.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Conversation, 0, len(convs))
	for _, c := range convs {
		if needsActionOnly && !c.NeedsAction {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageTimestamp.Equal(out[j].LastMessageTimestamp) {
			return out[i].LastMessageTimestamp.After(out[j].LastMessageTimestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Conversation returns one conversation by canonical id.
func (e *Engine) Conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := e.store.Conversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("conversation", id)
	}
	return conv, err
}

func (e *Engine) Reminders(ctx context.Context) ([]domain.Reminder, error) {
	return e.store.Reminders(ctx)
}

func (e *Engine) Notifications(ctx context.Context) ([]domain.Notification, error) {
	return e.store.Notifications(ctx)
}

func (e *Engine) AnalysisLogs(ctx context.Context) ([]domain.AnalysisLogEntry, error) {
	return e.store.AnalysisLogs(ctx)
}

// Status counts conversations and artifacts.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st := Status{Busy: e.busy.Busy(), InFlight: e.busy.Count()}
	convs, err := e.store.Conversations(ctx)
	if err != nil {
		return st, err
	}
	st.Conversations = len(convs)
	for _, c := range convs {
		if c.NeedsAction {
			st.NeedsAction++
		}
	}
	reminders, err := e.store.Reminders(ctx)
	if err != nil {
		return st, err
	}
	for _, r := range reminders {
		if r.Status == domain.ReminderPending {
			st.PendingReminders++
		}
	}
	notifications, err := e.store.Notifications(ctx)
	if err != nil {
		return st, err
	}
	st.Badge = len(notifications)
	return st, nil
}

// removeNotificationsFor drops every notification of convID.
func (e *Engine) removeNotificationsFor(ctx context.Context, convID string) error {
	notifications, err := e.store.Notifications(ctx)
	if err != nil {
		return err
	}
	kept := notifications[:0]
	for _, n := range notifications {
		if n.ConversationID != convID {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(notifications) {
		return nil
	}
	return e.store.SaveNotifications(ctx, kept)
}

// DismissConversation hides a conversation until the owner writes again.
func (e *Engine) DismissConversation(ctx context.Context, id string) error {
	err := e.lock.WithLock(ctx, func(ctx context.Context) error {
		conv, err := e.store.Conversation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("conversation", id)
		}
		if err != nil {
			return err
		}
		conv.NeedsAction = false
		conv.Status = domain.StatusDismissed
		conv.UpdatedAt = e.now()
		if err := e.store.SaveConversation(ctx, conv); err != nil {
			return err
		}
		return e.removeNotificationsFor(ctx, id)
	})
	if err != nil {
		return err
	}
	e.logger.Info("conversation_dismissed", "conversation", id)
	e.publish(domain.ChangeConversation, id)
	e.publish(domain.ChangeNotification, id)
	return nil
}

// DismissReminder marks a reminder done and clears its conversation's
// notifications.
func (e *Engine) DismissReminder(ctx context.Context, id string) error {
	var convID string
	err := e.lock.WithLock(ctx, func(ctx context.Context) error {
		reminders, err := e.store.Reminders(ctx)
		if err != nil {
			return err
		}
		idx := -1
		for i := range reminders {
			if reminders[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return notFound("reminder", id)
		}
		reminders[idx].Status = domain.ReminderDone
		convID = reminders[idx].ConversationID
		if err := e.store.SaveReminders(ctx, reminders); err != nil {
			return err
		}
		return e.removeNotificationsFor(ctx, convID)
	})
	if err != nil {
		return err
	}
	e.logger.Info("reminder_dismissed", "reminder", id, "conversation", convID)
	e.publish(domain.ChangeReminder, convID)
	e.publish(domain.ChangeNotification, convID)
	return nil
}

// AddManualReminder attaches an owner-written reminder to a conversation.
func (e *Engine) AddManualReminder(ctx context.Context, convID, text string, due *time.Time) (domain.Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Reminder{}, fmt.Errorf("%w: reminder text required", ErrInvalidInput)
	}
	r := domain.Reminder{
		ID:             uuid.New().String(),
		ConversationID: convID,
		Text:           text,
		DueDate:        due,
		CreatedAt:      e.now(),
		Source:         domain.SourceManual,
		Status:         domain.ReminderPending,
	}
	err := e.lock.WithLock(ctx, func(ctx context.Context) error {
		if _, err := e.store.Conversation(ctx, convID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("conversation", convID)
			}
			return err
		}
		reminders, err := e.store.Reminders(ctx)
		if err != nil {
			return err
		}
		return e.store.SaveReminders(ctx, append(reminders, r))
	})
	if err != nil {
		return domain.Reminder{}, err
	}
	e.metrics.ArtifactCreated("reminder")
	e.logger.Info("reminder_created", "conversation", convID, "reminder", r.ID, "source", r.Source)
	e.publish(domain.ChangeReminder, convID)
	return r, nil
}

// MarkNotificationRead removes a notification.
func (e *Engine) MarkNotificationRead(ctx context.Context, id string) error {
	var convID string
	err := e.lock.WithLock(ctx, func(ctx context.Context) error {
		notifications, err := e.store.Notifications(ctx)
		if err != nil {
			return err
		}
		for i, n := range notifications {
			if n.ID == id {
				convID = n.ConversationID
				return e.store.SaveNotifications(ctx, append(notifications[:i], notifications[i+1:]...))
			}
		}
		return notFound("notification", id)
	})
	if err != nil {
		return err
	}
	e.publish(domain.ChangeNotification, convID)
	return nil
}

// Reanalyze forces an analysis pass for one conversation, bypassing the
// silence window.
func (e *Engine) Reanalyze(ctx context.Context, id string) (orchestrator.Outcome, error) {
	outcome, err := e.orch.Analyze(ctx, id, 0)
	if errors.Is(err, store.ErrNotFound) {
		return outcome, notFound("conversation", id)
	}
	return outcome, err
}

// ReanalyzeAll forces an analysis pass for every eligible conversation.
func (e *Engine) ReanalyzeAll(ctx context.Context) (map[string]orchestrator.Outcome, error) {
	return e.sweep(ctx, 0)
}

// sweep runs the orchestrator over every non-dismissed conversation whose
// owner sent last, in id order.
func (e *Engine) sweep(ctx context.Context, forceThresholdHours float64) (map[string]orchestrator.Outcome, error) {
	convs, err := e.store.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(convs))
	for id, c := range convs {
		if c.Status == domain.StatusDismissed || !c.LastMessageSentByOwner {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	outcomes := make(map[string]orchestrator.Outcome, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome, err := e.orch.Analyze(ctx, id, forceThresholdHours)
		outcomes[id] = outcome
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return outcomes, err
		}
	}
	return outcomes, nil
}
