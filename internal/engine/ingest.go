package engine

import (
	"context"
	"fmt"

	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/history"
	"github.com/pbaille/followup/internal/identity"
)

// Ack is returned to the event producer once the merge is persisted.
type Ack struct {
	Success      bool   `json:"success"`
	ID           string `json:"id,omitempty"`
	Error        string `json:"error,omitempty"`
	Dropped      bool   `json:"dropped,omitempty"`
	Created      bool   `json:"created,omitempty"`
	Consolidated bool   `json:"consolidated,omitempty"`
}

func failed(err error) (Ack, error) {
	return Ack{Success: false, Error: err.Error()}, err
}

// Ingest reconciles ev into its conversation and persists the result.
// Owner-sent events then trigger a detached forced analysis; its outcome
// never reaches the caller.
func (e *Engine) Ingest(ctx context.Context, ev domain.RawEvent) (Ack, error) {
	if ev.TimestampMs <= 0 {
		e.metrics.EventIngested("invalid")
		return failed(fmt.Errorf("%w: missing timestamp", ErrInvalidEvent))
	}
	key := identity.KeyFor(ev)
	if key.ID == "" {
		e.metrics.EventIngested("invalid")
		return failed(fmt.Errorf("%w: no identity signal", ErrInvalidEvent))
	}
	if e.owner.IsSelf(ev) {
		e.metrics.EventIngested("dropped")
		e.logger.Debug("ingest_dropped_self", "key", key.ID)
		return Ack{Success: true, Dropped: true}, nil
	}

	var ack Ack
	err := e.lock.WithLock(ctx, func(ctx context.Context) error {
		convs, err := e.store.Conversations(ctx)
		if err != nil {
			return err
		}

		conv, consolidated := identity.Resolve(convs, key)
		created := conv == nil
		now := e.now()
		if created {
			conv = &domain.Conversation{
				ID:        key.ID,
				Status:    domain.StatusActive,
				CreatedAt: now,
			}
		}
		identity.Bind(conv, key)
		identity.UpgradeMetadata(conv, ev)
		if conv.DisplayName == "" {
			conv.DisplayName = ev.SenderName
		}

		last := newestIncoming(ev)
		merged, changed := history.Merge(conv, ev.HistoryBatch, last.Text)
		conv.History = merged
		if conv.LastMessageTimestamp.IsZero() || !last.Timestamp.Before(conv.LastMessageTimestamp) {
			conv.LastMessageText = last.Text
			conv.LastMessageTimestamp = last.Timestamp
			conv.LastMessageSentByOwner = last.SentByOwner
		}
		if changed {
			conv.HistoryChangedSinceAnalysis = true
		}
		conv.ContentHash = history.ContentHash(conv.History)
		if ev.SenderIsOwner && conv.Status == domain.StatusDismissed {
			conv.Status = domain.StatusActive
		}
		conv.UpdatedAt = now

		convs[conv.ID] = conv
		if err := e.store.SaveConversations(ctx, convs); err != nil {
			return err
		}
		ack = Ack{Success: true, ID: conv.ID, Created: created, Consolidated: consolidated}
		return nil
	})
	if err != nil {
		e.metrics.EventIngested("error")
		e.logger.Error("ingest_failed", "key", key.ID, "error", err)
		return failed(fmt.Errorf("ingest: %w", err))
	}

	switch {
	case ack.Created:
		e.metrics.EventIngested("created")
	case ack.Consolidated:
		e.metrics.EventIngested("consolidated")
	default:
		e.metrics.EventIngested("updated")
	}
	e.logger.Info("ingest_ok", "conversation", ack.ID, "created", ack.Created, "consolidated", ack.Consolidated, "owner", ev.SenderIsOwner)
	e.publish(domain.ChangeConversation, ack.ID)

	if ev.SenderIsOwner {
		e.analyzeAsync(ack.ID, 0)
	}
	return ack, nil
}

// newestIncoming picks the latest message carried by ev: the event itself
// or the tail of its history batch.
func newestIncoming(ev domain.RawEvent) domain.Message {
	m := domain.Message{
		Sender:      ev.SenderName,
		Text:        ev.Text,
		Timestamp:   ev.Timestamp(),
		SentByOwner: ev.SenderIsOwner,
	}
	for _, b := range ev.HistoryBatch {
		if b.Timestamp.After(m.Timestamp) {
			m = b
		}
	}
	return m
}
