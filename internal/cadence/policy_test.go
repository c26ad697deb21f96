package cadence

import (
	"testing"
	"time"

	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/history"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func fixedPolicy() *Policy {
	return &Policy{Now: func() time.Time { return now }}
}

// waiting builds a conversation whose history ends with count owner messages,
// the last one sent age ago.
func waiting(count int, age time.Duration) *domain.Conversation {
	last := now.Add(-age)
	h := []domain.Message{{Sender: "Ana", Text: "hey", Timestamp: last.Add(-time.Hour * 1000)}}
	for i := count - 1; i >= 0; i-- {
		h = append(h, domain.Message{
			Sender:      "Me",
			Text:        "ping",
			Timestamp:   last.Add(-time.Duration(i) * time.Minute),
			SentByOwner: true,
		})
	}
	return &domain.Conversation{
		ID:                     "c1",
		History:                h,
		LastMessageText:        "ping",
		LastMessageTimestamp:   last,
		LastMessageSentByOwner: true,
		ContentHash:            history.ContentHash(h),
	}
}

func TestFollowUpCapIgnoresElapsedTime(t *testing.T) {
	p := fixedPolicy()
	for _, force := range []float64{24, 0} {
		ok, reason := p.ShouldAnalyze(waiting(MaxFollowUps, 1000*time.Hour), force)
		if ok || reason != ReasonFollowUpCap {
			t.Fatalf("force=%v: expected cap refusal, got %v %q", force, ok, reason)
		}
	}
}

func TestSilenceWindowSteps(t *testing.T) {
	want := []time.Duration{24 * time.Hour, 72 * time.Hour, 168 * time.Hour, 336 * time.Hour}
	p := fixedPolicy()
	for count, window := range want {
		if SilenceWindow(count) != window {
			t.Fatalf("count %d: expected %v, got %v", count, window, SilenceWindow(count))
		}
		if ok, reason := p.ShouldAnalyze(waiting(count, time.Hour), 24); ok || reason != ReasonSilenceWindow {
			t.Fatalf("count %d at 1h: expected silence refusal, got %v %q", count, ok, reason)
		}
		if ok, _ := p.ShouldAnalyze(waiting(count, window-time.Minute), 24); ok {
			t.Fatalf("count %d just inside window: expected refusal", count)
		}
		if ok, _ := p.ShouldAnalyze(waiting(count, window+time.Minute), 24); !ok {
			t.Fatalf("count %d past window: expected analysis", count)
		}
	}
}

func TestForceBypassesSilenceWindow(t *testing.T) {
	ok, reason := fixedPolicy().ShouldAnalyze(waiting(1, time.Minute), 0)
	if !ok || reason != ReasonContentChanged {
		t.Fatalf("expected forced analysis, got %v %q", ok, reason)
	}
}

func TestHashGate(t *testing.T) {
	p := fixedPolicy()

	conv := waiting(1, 100*time.Hour)
	conv.ContentHash = ""
	if ok, reason := p.ShouldAnalyze(conv, 24); !ok || reason != ReasonMissingHash {
		t.Fatalf("expected missing-hash, got %v %q", ok, reason)
	}

	conv = waiting(1, 100*time.Hour)
	conv.LastNotifiedHash = "other"
	if ok, reason := p.ShouldAnalyze(conv, 24); !ok || reason != ReasonContentChanged {
		t.Fatalf("expected content-changed, got %v %q", ok, reason)
	}
}

func TestHashLockReNotification(t *testing.T) {
	p := fixedPolicy()
	conv := waiting(1, 100*time.Hour)
	conv.LastNotifiedHash = conv.ContentHash

	recent := now.Add(-2 * time.Hour)
	conv.LastAnalyzedAt = &recent
	if ok, reason := p.ShouldAnalyze(conv, 24); ok || reason != ReasonNoChange {
		t.Fatalf("expected refusal within ghosting interval, got %v %q", ok, reason)
	}

	stale := now.Add(-25 * time.Hour)
	conv.LastAnalyzedAt = &stale
	if ok, reason := p.ShouldAnalyze(conv, 24); !ok || reason != ReasonGhostingCheck {
		t.Fatalf("expected ghosting-check, got %v %q", ok, reason)
	}
}

func TestNotWaiting(t *testing.T) {
	p := fixedPolicy()

	conv := waiting(1, 100*time.Hour)
	conv.LastMessageSentByOwner = false
	if ok, reason := p.ShouldAnalyze(conv, 0); ok || reason != ReasonNotWaiting {
		t.Fatalf("expected not-waiting when partner sent last, got %v %q", ok, reason)
	}

	conv = waiting(1, 100*time.Hour)
	conv.LastMessageTimestamp = time.Time{}
	if ok, reason := p.ShouldAnalyze(conv, 0); ok || reason != ReasonNotWaiting {
		t.Fatalf("expected not-waiting without timestamp, got %v %q", ok, reason)
	}
}

func TestScenarioNewConversation(t *testing.T) {
	conv := &domain.Conversation{
		ID:                     "c1",
		LastMessageText:        "hello",
		LastMessageTimestamp:   now.Add(-25 * time.Hour),
		LastMessageSentByOwner: true,
	}
	ok, reason := fixedPolicy().ShouldAnalyze(conv, 24)
	if !ok || reason != ReasonMissingHash {
		t.Fatalf("expected missing-hash analysis, got %v %q", ok, reason)
	}
}
