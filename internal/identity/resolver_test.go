package identity

import (
	"testing"

	"github.com/pbaille/followup/internal/domain"
)

func TestKeyForPriority(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.RawEvent
		want Key
	}{
		{
			name: "stable wins",
			ev: domain.RawEvent{
				StableIdentifier:        "P1",
				SourceURL:               "https://example.com/messaging/thread/T1/",
				ConversationDisplayName: "Ana Lopez",
			},
			want: Key{ID: "P1", Kind: KindStable, Thread: "T1"},
		},
		{
			name: "thread from url",
			ev:   domain.RawEvent{SourceURL: "https://example.com/messaging/thread/2-abc%3D%3D?x=1"},
			want: Key{ID: "2-abc==", Kind: KindThread, Thread: "2-abc=="},
		},
		{
			name: "explicit thread",
			ev:   domain.RawEvent{ThreadIdentifier: "T9", SourceURL: "https://example.com/thread/T1"},
			want: Key{ID: "T9", Kind: KindThread, Thread: "T9"},
		},
		{
			name: "name fallback",
			ev:   domain.RawEvent{ConversationDisplayName: "  Ana   Lopez "},
			want: Key{ID: "ana_lopez", Kind: KindName},
		},
		{
			name: "nothing",
			ev:   domain.RawEvent{},
			want: Key{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeyFor(tt.ev); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestResolveConsolidatesThreadIntoStableConversation(t *testing.T) {
	convs := map[string]*domain.Conversation{
		"P1": {ID: "P1", URL: "https://example.com/messaging/thread/T1/"},
		"P2": {ID: "P2", URL: "https://example.com/messaging/thread/T2/"},
	}
	key := KeyFor(domain.RawEvent{ThreadIdentifier: "T1"})
	conv, consolidated := Resolve(convs, key)
	if conv == nil || conv.ID != "P1" {
		t.Fatalf("expected merge into P1, got %+v", conv)
	}
	if !consolidated {
		t.Fatalf("expected consolidated match")
	}
	Bind(conv, key)
	if !conv.HasIdentity("T1") || conv.ThreadRef != "T1" {
		t.Fatalf("expected T1 recorded as alternate, got %+v", conv)
	}

	again, consolidated := Resolve(convs, key)
	if again != conv || !consolidated {
		t.Fatalf("expected alternate lookup to find P1")
	}
}

func TestResolveStableKeyFindsThreadKeyedConversation(t *testing.T) {
	convs := map[string]*domain.Conversation{
		"T1": {ID: "T1", ThreadRef: "T1"},
	}
	key := KeyFor(domain.RawEvent{StableIdentifier: "P1", ThreadIdentifier: "T1"})
	conv, _ := Resolve(convs, key)
	if conv == nil || conv.ID != "T1" {
		t.Fatalf("expected thread-keyed conversation, got %+v", conv)
	}
	Bind(conv, key)
	if !conv.HasIdentity("P1") {
		t.Fatalf("expected stable id recorded as alternate")
	}
}

func TestResolveNameKeyDoesNotUseURLEvidence(t *testing.T) {
	convs := map[string]*domain.Conversation{
		"P1": {ID: "P1", URL: "https://example.com/thread/ana_lopez"},
	}
	if conv, _ := Resolve(convs, KeyFor(domain.RawEvent{ConversationDisplayName: "Ana Lopez"})); conv != nil {
		t.Fatalf("expected no match, got %+v", conv)
	}
}

func TestResolveUnknownCreates(t *testing.T) {
	conv, consolidated := Resolve(map[string]*domain.Conversation{}, Key{ID: "T5", Kind: KindThread, Thread: "T5"})
	if conv != nil || consolidated {
		t.Fatalf("expected no match")
	}
}

func TestUpgradeMetadataIsMonotonic(t *testing.T) {
	conv := &domain.Conversation{
		DisplayName: "Ana",
		Headline:    "Engineer",
		URL:         "https://example.com/messaging/thread/T1/",
	}
	UpgradeMetadata(conv, domain.RawEvent{SourceURL: "https://example.com/messaging/"})
	if conv.DisplayName != "Ana" || conv.Headline != "Engineer" {
		t.Fatalf("expected metadata kept, got %+v", conv)
	}
	if conv.URL != "https://example.com/messaging/thread/T1/" {
		t.Fatalf("expected deep link kept, got %q", conv.URL)
	}

	UpgradeMetadata(conv, domain.RawEvent{
		ConversationDisplayName: "Ana Lopez",
		ImageRef:                "img",
		SourceURL:               "https://example.com/messaging/thread/T1/?ref=x",
	})
	if conv.DisplayName != "Ana Lopez" || conv.ImageRef != "img" {
		t.Fatalf("expected metadata upgraded, got %+v", conv)
	}
	if conv.URL != "https://example.com/messaging/thread/T1/?ref=x" {
		t.Fatalf("expected deep link replaced, got %q", conv.URL)
	}
}

func TestOwnerFilter(t *testing.T) {
	f := OwnerFilter{ProfileID: "ME", Name: "Sam Doe"}
	tests := []struct {
		name string
		ev   domain.RawEvent
		want bool
	}{
		{"profile id", domain.RawEvent{StableIdentifier: "ME"}, true},
		{"exact name", domain.RawEvent{ConversationDisplayName: "sam doe"}, true},
		{"contained name", domain.RawEvent{ConversationDisplayName: "Dr. Sam Doe"}, true},
		{"sender fallback", domain.RawEvent{SenderName: "Sam Doe"}, true},
		{"partner", domain.RawEvent{StableIdentifier: "P1", ConversationDisplayName: "Ana"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.IsSelf(tt.ev); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if (OwnerFilter{}).IsSelf(domain.RawEvent{ConversationDisplayName: "Ana"}) {
		t.Fatalf("expected empty filter to pass everything")
	}
}
