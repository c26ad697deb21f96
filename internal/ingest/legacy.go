package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/followup/internal/domain"
)

var (
	// ErrMalformed is returned when a payload is not valid JSON of a known shape.
	ErrMalformed = errors.New("malformed payload")
)

// millis is an epoch-milliseconds timestamp that also accepts numeric
// strings and RFC 3339 strings. Unparseable values decode to zero so the
// engine rejects the event rather than the whole batch failing here.
type millis int64

func (m *millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if data[0] != '"' {
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			*m = 0
			return nil
		}
		*m = millis(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*m = millis(n)
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		*m = millis(t.UnixMilli())
		return nil
	}
	*m = 0
	return nil
}

type legacyMessage struct {
	Text       string `json:"text"`
	Sender     string `json:"sender"`
	IsMe       bool   `json:"isMe"`
	Timestamp  millis `json:"timestamp"`
	DateHeader string `json:"dateHeader"`
}

type legacyPayload struct {
	ConversationName string          `json:"conversationName"`
	History          []legacyMessage `json:"history"`
	Text             string          `json:"text"`
	Sender           string          `json:"sender"`
	IsMe             bool            `json:"isMe"`
	Timestamp        millis          `json:"timestamp"`
	URL              string          `json:"url"`
}

// DecodeLegacy maps the page-scrape payload onto a RawEvent. History
// entries without a usable timestamp are dropped.
func DecodeLegacy(data []byte) (domain.RawEvent, error) {
	var p legacyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.RawEvent{}, fmt.Errorf("%w: legacy: %v", ErrMalformed, err)
	}

	ev := domain.RawEvent{
		Text:                    plainText(p.Text),
		SenderName:              strings.TrimSpace(p.Sender),
		SenderIsOwner:           p.IsMe,
		TimestampMs:             int64(p.Timestamp),
		ConversationDisplayName: strings.TrimSpace(p.ConversationName),
		SourceURL:               strings.TrimSpace(p.URL),
	}
	for _, m := range p.History {
		if m.Timestamp <= 0 {
			continue
		}
		ev.HistoryBatch = append(ev.HistoryBatch, domain.Message{
			Sender:      strings.TrimSpace(m.Sender),
			Text:        plainText(m.Text),
			Timestamp:   time.UnixMilli(int64(m.Timestamp)),
			SentByOwner: m.IsMe,
			DateLabel:   m.DateHeader,
		})
	}
	return ev, nil
}
