package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pbaille/followup/internal/domain"
)

// Format names a recognised wire shape.
type Format string

const (
	FormatLegacy    Format = "legacy"
	FormatAPI       Format = "api"
	FormatCanonical Format = "canonical"
)

// Sniff reports which adapter understands obj.
func Sniff(obj map[string]json.RawMessage) Format {
	for _, k := range []string{"urn", "threadUrn", "senderUrn", "participants"} {
		if _, ok := obj[k]; ok {
			return FormatAPI
		}
	}
	if _, ok := obj["timestampMs"]; ok {
		return FormatCanonical
	}
	return FormatLegacy
}

// Decode accepts a single payload or a JSON array of payloads in any
// supported shape. Payloads wrapped in a {"type", "data"} message
// envelope are unwrapped first.
func (d Decoder) Decode(data []byte) ([]domain.RawEvent, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		events := make([]domain.RawEvent, 0, len(items))
		for i, item := range items {
			ev, err := d.decodeOne(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			events = append(events, ev)
		}
		return events, nil
	}
	ev, err := d.decodeOne(data)
	if err != nil {
		return nil, err
	}
	return []domain.RawEvent{ev}, nil
}

func (d Decoder) decodeOne(data []byte) (domain.RawEvent, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return domain.RawEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if inner, ok := obj["data"]; ok {
		if _, typed := obj["type"]; typed {
			return d.decodeOne(inner)
		}
	}

	switch Sniff(obj) {
	case FormatAPI:
		return d.DecodeAPI(data)
	case FormatCanonical:
		var ev domain.RawEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return domain.RawEvent{}, fmt.Errorf("%w: canonical: %v", ErrMalformed, err)
		}
		return ev, nil
	default:
		return DecodeLegacy(data)
	}
}
