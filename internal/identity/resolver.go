// Package identity maps raw events to canonical conversation identities.
package identity

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/pbaille/followup/internal/domain"
)

// KeyKind names which signal produced a conversation key.
type KeyKind string

const (
	KindNone   KeyKind = ""
	KindStable KeyKind = "stable"
	KindThread KeyKind = "thread"
	KindName   KeyKind = "name"
)

// Key is the identity computed for one event.
type Key struct {
	ID     string
	Kind   KeyKind
	Thread string
}

var (
	threadPattern = regexp.MustCompile(`thread/([^/?#&]+)`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// ThreadFromURL extracts the thread path segment from a deep link.
func ThreadFromURL(raw string) string {
	m := threadPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	if decoded, err := url.PathUnescape(m[1]); err == nil {
		return decoded
	}
	return m[1]
}

// NormalizeName lower-cases name and collapses whitespace runs to '_'.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return whitespace.ReplaceAllString(name, "_")
}

// KeyFor computes the canonical key candidate for ev by priority:
// stable identifier, thread identifier, normalized display name.
func KeyFor(ev domain.RawEvent) Key {
	thread := ev.ThreadIdentifier
	if thread == "" {
		thread = ThreadFromURL(ev.SourceURL)
	}
	switch {
	case ev.StableIdentifier != "":
		return Key{ID: ev.StableIdentifier, Kind: KindStable, Thread: thread}
	case thread != "":
		return Key{ID: thread, Kind: KindThread, Thread: thread}
	}
	if name := NormalizeName(ev.ConversationDisplayName); name != "" {
		return Key{ID: name, Kind: KindName}
	}
	return Key{}
}

// Resolve finds the conversation in convs that key refers to. It returns
// nil when a new conversation should be created under key.ID, and
// consolidated=true when the match was found through stored evidence
// rather than the canonical id.
func Resolve(convs map[string]*domain.Conversation, key Key) (conv *domain.Conversation, consolidated bool) {
	if key.ID == "" {
		return nil, false
	}
	if c, ok := convs[key.ID]; ok {
		return c, false
	}

	ids := make([]string, 0, len(convs))
	for id := range convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := convs[id]
		if matches(c, key) {
			return c, true
		}
	}
	return nil, false
}

func matches(c *domain.Conversation, key Key) bool {
	if c.HasIdentity(key.ID) {
		return true
	}
	if key.Kind == KindName {
		return false
	}
	if key.Thread != "" {
		if c.HasIdentity(key.Thread) || c.ThreadRef == key.Thread {
			return true
		}
		if c.URL != "" && strings.Contains(c.URL, key.Thread) {
			return true
		}
	}
	return false
}

// Bind records key on conv after a lookup: the key and thread become
// alternates when they differ from the canonical id, and the thread
// reference is kept current.
func Bind(conv *domain.Conversation, key Key) {
	if key.ID != conv.ID {
		conv.AddAlternate(key.ID)
	}
	if key.Thread != "" {
		if key.Thread != conv.ID {
			conv.AddAlternate(key.Thread)
		}
		conv.ThreadRef = key.Thread
	}
}

// UpgradeMetadata copies presentational fields from ev onto conv, never
// replacing a known value with an empty one.
func UpgradeMetadata(conv *domain.Conversation, ev domain.RawEvent) {
	if ev.ConversationDisplayName != "" {
		conv.DisplayName = ev.ConversationDisplayName
	}
	if ev.Headline != "" {
		conv.Headline = ev.Headline
	}
	if ev.NetworkDistance != "" {
		conv.NetworkDistance = ev.NetworkDistance
	}
	if ev.ImageRef != "" {
		conv.ImageRef = ev.ImageRef
	}
	if betterURL(conv.URL, ev.SourceURL) {
		conv.URL = ev.SourceURL
	}
}

// betterURL reports whether candidate should replace current: a deep link
// to a thread wins over anything that is not one.
func betterURL(current, candidate string) bool {
	if candidate == "" {
		return false
	}
	if current == "" {
		return true
	}
	return ThreadFromURL(candidate) != "" || ThreadFromURL(current) == ""
}
