// Package history merges incoming message batches into a stored
// conversation history and detects content changes.
package history

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pbaille/followup/internal/domain"
)

// keyTextPrefix is the number of runes of text that take part in the dedup key.
const keyTextPrefix = 50

// Merge combines conv's stored history with incoming, deduplicated by
// (timestamp, sender, text prefix), ordered oldest first and truncated to
// domain.MaxHistory. changed reports whether the resulting history differs
// from the stored one or lastText differs from the recorded last message.
func Merge(conv *domain.Conversation, incoming []domain.Message, lastText string) ([]domain.Message, bool) {
	var prior []domain.Message
	var priorLast string
	if conv != nil {
		prior = conv.History
		priorLast = conv.LastMessageText
	}

	changed := lastText != priorLast
	if len(incoming) == 0 {
		return append([]domain.Message(nil), prior...), changed
	}

	seen := make(map[string]struct{}, len(prior)+len(incoming))
	merged := make([]domain.Message, 0, len(prior)+len(incoming))
	for _, batch := range [][]domain.Message{prior, incoming} {
		for _, m := range batch {
			k := key(m)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, m)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	if len(merged) > domain.MaxHistory {
		merged = merged[len(merged)-domain.MaxHistory:]
	}

	if !equal(prior, merged) {
		changed = true
	}
	return merged, changed
}

func key(m domain.Message) string {
	text := m.Text
	if r := []rune(text); len(r) > keyTextPrefix {
		text = string(r[:keyTextPrefix])
	}
	return fmt.Sprintf("%d\x00%s\x00%s", m.Timestamp.UnixMilli(), m.Sender, text)
}

func equal(a, b []domain.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Sender != b[i].Sender ||
			a[i].Text != b[i].Text ||
			a[i].SentByOwner != b[i].SentByOwner ||
			!a[i].Timestamp.Equal(b[i].Timestamp) {
			return false
		}
	}
	return true
}

// ContentHash hashes the (sender, text) sequence of history. An empty
// history has no hash.
func ContentHash(history []domain.Message) string {
	if len(history) == 0 {
		return ""
	}
	parts := make([]string, len(history))
	for i, m := range history {
		parts[i] = m.Sender + ":" + m.Text
	}
	return djb2(strings.Join(parts, "|"))
}

// djb2 is the xor variant of Bernstein's hash over the UTF-16 code units
// of s, rendered as unsigned hex.
func djb2(s string) string {
	var h uint32 = 5381
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			h = h*33 ^ uint32(0xD800+(r>>10))
			h = h*33 ^ uint32(0xDC00+(r&0x3FF))
			continue
		}
		h = h*33 ^ uint32(r)
	}
	return fmt.Sprintf("%x", h)
}

// ConsecutiveOwnerRun returns the trailing owner-sent messages of history,
// newest first, stopping at the first message from the other party.
func ConsecutiveOwnerRun(history []domain.Message) []domain.Message {
	var run []domain.Message
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].SentByOwner {
			break
		}
		run = append(run, history[i])
	}
	return run
}
