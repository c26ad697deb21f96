package domain

import "time"

// MaxHistory is the number of messages retained per conversation.
const MaxHistory = 50

// Status of a conversation as seen by the owner.
type Status string

const (
	StatusActive    Status = "active"
	StatusDismissed Status = "dismissed"
)

// Decision is the Analyzer verdict.
type Decision string

const (
	DecisionYes Decision = "YES"
	DecisionNo  Decision = "NO"
)

// Message is one entry of a conversation history
type Message struct {
	Sender      string    `json:"sender"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	SentByOwner bool      `json:"sentByOwner"`
	DateLabel   string    `json:"dateLabel,omitempty"`
}

// Analysis holds the fields of the last successful Analyzer result
type Analysis struct {
	Decision      Decision  `json:"decision"`
	Category      string    `json:"category"`
	Confidence    int       `json:"confidence"`
	Scenario      string    `json:"scenario,omitempty"`
	SampleMessage string    `json:"sampleMessage,omitempty"`
	Reason        string    `json:"reason"`
	AnalyzedAt    time.Time `json:"analyzedAt"`
}

// Conversation is the reconciled record of one real-world thread.
type Conversation struct {
	ID              string    `json:"id"`
	AlternateIDs    []string  `json:"alternateIds,omitempty"`
	ThreadRef       string    `json:"threadRef,omitempty"`
	DisplayName     string    `json:"displayName"`
	URL             string    `json:"url,omitempty"`
	Headline        string    `json:"headline,omitempty"`
	NetworkDistance string    `json:"networkDistance,omitempty"`
	ImageRef        string    `json:"imageRef,omitempty"`
	History         []Message `json:"history"`

	LastMessageText        string    `json:"lastMessageText"`
	LastMessageTimestamp   time.Time `json:"lastMessageTimestamp"`
	LastMessageSentByOwner bool      `json:"lastMessageSentByOwner"`

	ContentHash      string `json:"contentHash,omitempty"`
	LastNotifiedHash string `json:"lastNotifiedHash,omitempty"`

	LastAnalyzedAt              *time.Time `json:"lastAnalyzedAt,omitempty"`
	HistoryChangedSinceAnalysis bool       `json:"historyChangedSinceAnalysis"`
	Analysis                    *Analysis  `json:"analysis,omitempty"`

	Status      Status    `json:"status"`
	NeedsAction bool      `json:"needsAction"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasIdentity reports whether id is the canonical key or a retained alternate.
func (c *Conversation) HasIdentity(id string) bool {
	if id == "" {
		return false
	}
	if c.ID == id {
		return true
	}
	for _, alt := range c.AlternateIDs {
		if alt == id {
			return true
		}
	}
	return false
}

// AddAlternate records id as an alternate identity unless already known.
func (c *Conversation) AddAlternate(id string) bool {
	if id == "" || c.HasIdentity(id) {
		return false
	}
	c.AlternateIDs = append(c.AlternateIDs, id)
	return true
}

// Clone returns a deep copy safe to mutate independently.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.AlternateIDs = append([]string(nil), c.AlternateIDs...)
	cp.History = append([]Message(nil), c.History...)
	if c.LastAnalyzedAt != nil {
		t := *c.LastAnalyzedAt
		cp.LastAnalyzedAt = &t
	}
	if c.Analysis != nil {
		a := *c.Analysis
		cp.Analysis = &a
	}
	return &cp
}

type ReminderSource string

const (
	SourceAI     ReminderSource = "ai"
	SourceManual ReminderSource = "manual"
)

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderTriggered ReminderStatus = "triggered"
	ReminderDone      ReminderStatus = "done"
)

// Reminder is a follow-up task attached to a conversation by id only.
type Reminder struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Text           string         `json:"text"`
	DueDate        *time.Time     `json:"dueDate"`
	CreatedAt      time.Time      `json:"createdAt"`
	Source         ReminderSource `json:"source"`
	Status         ReminderStatus `json:"status"`
}

// ConversationSnapshot is the conversation metadata copied into a notification.
type ConversationSnapshot struct {
	DisplayName     string    `json:"displayName"`
	Headline        string    `json:"headline,omitempty"`
	NetworkDistance string    `json:"networkDistance,omitempty"`
	ImageRef        string    `json:"imageRef,omitempty"`
	LastMessageText string    `json:"lastMessageText,omitempty"`
	Decision        Decision  `json:"decision,omitempty"`
	Confidence      int       `json:"confidence,omitempty"`
	Scenario        string    `json:"scenario,omitempty"`
	AnalyzedAt      time.Time `json:"analyzedAt,omitempty"`
}

// Notification asks the owner to act on a conversation.
type Notification struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversationId"`
	Message        string               `json:"message"`
	Reason         string               `json:"reason"`
	Category       string               `json:"category"`
	CreatedAt      time.Time            `json:"createdAt"`
	URL            string               `json:"url"`
	Snapshot       ConversationSnapshot `json:"snapshot"`
}

// AnalysisLogEntry is an append-only observability record.
type AnalysisLogEntry struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversationId"`
	ConversationName string    `json:"conversationName,omitempty"`
	TriggerReason    string    `json:"triggerReason"`
	Decision         Decision  `json:"decision"`
	Reason           string    `json:"reason,omitempty"`
	Confidence       int       `json:"confidence"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
}

// MaxAnalysisLogs bounds the analysis log ring.
const MaxAnalysisLogs = 100

// RawEvent is the canonical shape every inbound wire format is normalised to.
type RawEvent struct {
	Text                    string    `json:"text"`
	SenderName              string    `json:"senderName"`
	SenderIsOwner           bool      `json:"senderIsOwner"`
	TimestampMs             int64     `json:"timestampMs"`
	ConversationDisplayName string    `json:"conversationDisplayName"`
	HistoryBatch            []Message `json:"historyBatch,omitempty"`
	SourceURL               string    `json:"sourceUrl,omitempty"`
	StableIdentifier        string    `json:"stableIdentifier,omitempty"`
	ThreadIdentifier        string    `json:"threadIdentifier,omitempty"`

	Headline        string `json:"headline,omitempty"`
	NetworkDistance string `json:"networkDistance,omitempty"`
	ImageRef        string `json:"imageRef,omitempty"`
}

// Timestamp converts TimestampMs to a time.
func (e RawEvent) Timestamp() time.Time {
	return time.UnixMilli(e.TimestampMs)
}

// FollowUpDraft is a previously sent owner message in an unanswered run.
type FollowUpDraft struct {
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// PreviousAnalysis summarises the prior Analyzer outcome for context.
type PreviousAnalysis struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	Category string `json:"category"`
	Date     string `json:"date"`
}

// AnalysisRequest is the context handed to an Analyzer.
type AnalysisRequest struct {
	ConversationName       string           `json:"conversationName"`
	LastMessageText        string           `json:"lastMessageText"`
	LastMessageSentByOwner bool             `json:"lastMessageSentByOwner"`
	DaysSinceLastMessage   float64          `json:"daysSinceLastMessage"`
	History                []Message        `json:"history"`
	HistoryLength          int              `json:"historyLength"`
	PriorFollowUpDrafts    []FollowUpDraft  `json:"priorFollowUpDrafts"`
	PreviousAnalysis       PreviousAnalysis `json:"previousAnalysis"`
	Now                    time.Time        `json:"now"`
}

// ReminderSuggestion is the optional reminder part of an Analyzer result.
type ReminderSuggestion struct {
	Text          string `json:"text"`
	SuggestedDate string `json:"suggested_date,omitempty"`
}

// AnalysisResult is the validated Analyzer response.
type AnalysisResult struct {
	Decision              Decision            `json:"decision"`
	ConfidenceScore       int                 `json:"confidence_score"`
	Reason                string              `json:"reason"`
	Category              string              `json:"category"`
	ScenarioType          string              `json:"scenario_type,omitempty"`
	SampleFollowUpMessage string              `json:"sample_follow_up_message,omitempty"`
	Reminder              *ReminderSuggestion `json:"reminder,omitempty"`
}

// ChangeKind names what a persisted mutation touched.
type ChangeKind string

const (
	ChangeConversation ChangeKind = "conversation"
	ChangeReminder     ChangeKind = "reminder"
	ChangeNotification ChangeKind = "notification"
	ChangeBusy         ChangeKind = "busy"
)

// Change is published after every persisted mutation.
type Change struct {
	Kind           ChangeKind `json:"kind"`
	ConversationID string     `json:"conversationId,omitempty"`
	At             time.Time  `json:"at"`
}
