// Package store persists the conversation, reminder, notification and
// analysis-log collections over a key-value Backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pbaille/followup/internal/domain"
)

const (
	keyConversations = "conversations"
	keyReminders     = "reminders"
	keyNotifications = "notifications"
	keyAnalysisLogs  = "analysis_logs"
	keyIsAnalyzing   = "is_analyzing"
)

// Store is the typed view over a Backend. Each collection is one key, so
// every Set is atomic per collection. Callers serialise multi-step
// read-modify-write sequences with guard.StoreLock.
type Store struct {
	backend Backend
}

// New wraps backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Open builds the backend named by dsn and wraps it.
func Open(dsn string) (*Store, error) {
	backend, err := BuildFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	return New(backend), nil
}

// Close closes the underlying backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) load(ctx context.Context, key string, v any) error {
	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.backend.Set(ctx, key, data)
}

// Conversations returns all conversations keyed by canonical id.
func (s *Store) Conversations(ctx context.Context) (map[string]*domain.Conversation, error) {
	convs := map[string]*domain.Conversation{}
	if err := s.load(ctx, keyConversations, &convs); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	if convs == nil {
		convs = map[string]*domain.Conversation{}
	}
	return convs, nil
}

// SaveConversations replaces the conversation collection.
func (s *Store) SaveConversations(ctx context.Context, convs map[string]*domain.Conversation) error {
	if err := s.save(ctx, keyConversations, convs); err != nil {
		return fmt.Errorf("save conversations: %w", err)
	}
	return nil
}

// Conversation returns one conversation by canonical id.
func (s *Store) Conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	convs, err := s.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	conv, ok := convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return conv, nil
}

// SaveConversation upserts conv into the collection.
func (s *Store) SaveConversation(ctx context.Context, conv *domain.Conversation) error {
	convs, err := s.Conversations(ctx)
	if err != nil {
		return err
	}
	convs[conv.ID] = conv
	return s.SaveConversations(ctx, convs)
}

// Reminders returns all reminders in creation order.
func (s *Store) Reminders(ctx context.Context) ([]domain.Reminder, error) {
	var reminders []domain.Reminder
	if err := s.load(ctx, keyReminders, &reminders); err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	return reminders, nil
}

// SaveReminders replaces the reminder collection.
func (s *Store) SaveReminders(ctx context.Context, reminders []domain.Reminder) error {
	if reminders == nil {
		reminders = []domain.Reminder{}
	}
	if err := s.save(ctx, keyReminders, reminders); err != nil {
		return fmt.Errorf("save reminders: %w", err)
	}
	return nil
}

// Notifications returns all notifications in creation order.
func (s *Store) Notifications(ctx context.Context) ([]domain.Notification, error) {
	var notifications []domain.Notification
	if err := s.load(ctx, keyNotifications, &notifications); err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	return notifications, nil
}

// SaveNotifications replaces the notification collection.
func (s *Store) SaveNotifications(ctx context.Context, notifications []domain.Notification) error {
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	if err := s.save(ctx, keyNotifications, notifications); err != nil {
		return fmt.Errorf("save notifications: %w", err)
	}
	return nil
}

// AnalysisLogs returns the retained log entries, newest first.
func (s *Store) AnalysisLogs(ctx context.Context) ([]domain.AnalysisLogEntry, error) {
	var logs []domain.AnalysisLogEntry
	if err := s.load(ctx, keyAnalysisLogs, &logs); err != nil {
		return nil, fmt.Errorf("load analysis logs: %w", err)
	}
	return logs, nil
}

// AppendAnalysisLog prepends entry and drops entries beyond
// domain.MaxAnalysisLogs.
func (s *Store) AppendAnalysisLog(ctx context.Context, entry domain.AnalysisLogEntry) error {
	logs, err := s.AnalysisLogs(ctx)
	if err != nil {
		return err
	}
	logs = append([]domain.AnalysisLogEntry{entry}, logs...)
	if len(logs) > domain.MaxAnalysisLogs {
		logs = logs[:domain.MaxAnalysisLogs]
	}
	if err := s.save(ctx, keyAnalysisLogs, logs); err != nil {
		return fmt.Errorf("save analysis logs: %w", err)
	}
	return nil
}

// IsAnalyzing returns the persisted busy flag.
func (s *Store) IsAnalyzing(ctx context.Context) (bool, error) {
	var busy bool
	if err := s.load(ctx, keyIsAnalyzing, &busy); err != nil {
		return false, fmt.Errorf("load busy flag: %w", err)
	}
	return busy, nil
}

// SetAnalyzing persists the busy flag.
func (s *Store) SetAnalyzing(ctx context.Context, busy bool) error {
	if err := s.save(ctx, keyIsAnalyzing, busy); err != nil {
		return fmt.Errorf("save busy flag: %w", err)
	}
	return nil
}
