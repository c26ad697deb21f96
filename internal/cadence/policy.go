// Package cadence decides when a conversation is due for analysis.
package cadence

import (
	"time"

	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/history"
)

// MaxFollowUps is the number of unanswered owner messages after which a
// conversation is no longer analyzed.
const MaxFollowUps = 4

// GhostingInterval is how long an unchanged, already-notified conversation
// waits before it is re-checked.
const GhostingInterval = 24 * time.Hour

// silenceWindows is indexed by consecutive follow-up count.
var silenceWindows = [MaxFollowUps]time.Duration{
	24 * time.Hour,
	72 * time.Hour,
	168 * time.Hour,
	336 * time.Hour,
}

// Reason explains a Policy verdict.
type Reason string

const (
	ReasonMissingHash    Reason = "missing-hash"
	ReasonContentChanged Reason = "content-changed"
	ReasonGhostingCheck  Reason = "ghosting-check"

	ReasonNotWaiting    Reason = "not-waiting"
	ReasonFollowUpCap   Reason = "followup-cap"
	ReasonSilenceWindow Reason = "silence-window"
	ReasonNoChange      Reason = "no-change"
)

// SilenceWindow returns the required silence after count consecutive
// owner messages. Counts at or beyond the cap return zero.
func SilenceWindow(count int) time.Duration {
	if count < 0 {
		count = 0
	}
	if count >= MaxFollowUps {
		return 0
	}
	return silenceWindows[count]
}

// Policy evaluates conversations against the follow-up cadence.
type Policy struct {
	Now func() time.Time
}

// New creates a Policy using the wall clock.
func New() *Policy {
	return &Policy{Now: time.Now}
}

func (p *Policy) now() time.Time {
	if p == nil || p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// ShouldAnalyze reports whether conv is due for analysis and why.
// forceThresholdHours == 0 bypasses the silence window but never the cap.
func (p *Policy) ShouldAnalyze(conv *domain.Conversation, forceThresholdHours float64) (bool, Reason) {
	if conv == nil || conv.LastMessageTimestamp.IsZero() || !conv.LastMessageSentByOwner {
		return false, ReasonNotWaiting
	}

	count := len(history.ConsecutiveOwnerRun(conv.History))
	if count >= MaxFollowUps {
		return false, ReasonFollowUpCap
	}

	now := p.now()
	if forceThresholdHours != 0 && now.Sub(conv.LastMessageTimestamp) < SilenceWindow(count) {
		return false, ReasonSilenceWindow
	}

	switch {
	case conv.ContentHash == "":
		return true, ReasonMissingHash
	case conv.ContentHash != conv.LastNotifiedHash:
		return true, ReasonContentChanged
	case conv.LastAnalyzedAt == nil || now.Sub(*conv.LastAnalyzedAt) > GhostingInterval:
		return true, ReasonGhostingCheck
	}
	return false, ReasonNoChange
}

// FollowUpCount returns the number of trailing owner-sent messages in conv.
func FollowUpCount(conv *domain.Conversation) int {
	if conv == nil {
		return 0
	}
	return len(history.ConsecutiveOwnerRun(conv.History))
}
