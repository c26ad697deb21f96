package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pbaille/followup/internal/domain"
)

var (
	profilePattern = regexp.MustCompile(`fsd_profile:([^,)]+)`)
	threadURN      = regexp.MustCompile(`(?:messagingThread|fsd_messengerConversation|msg_conversation):([^,)]+)`)
)

// ProfileID extracts the member profile id from a URN, or "" when urn
// does not reference one.
func ProfileID(urn string) string {
	m := profilePattern.FindStringSubmatch(urn)
	if m == nil {
		return ""
	}
	return m[1]
}

// threadID reduces a thread URN to the id that also appears in thread
// deep links, so both wire formats land on the same key.
func threadID(urn string) string {
	if m := threadURN.FindStringSubmatch(urn); m != nil {
		return m[1]
	}
	return urn
}

type apiParticipant struct {
	Name     string `json:"name"`
	URN      string `json:"urn"`
	Headline string `json:"headline"`
	Distance string `json:"distance"`
	ImgURL   string `json:"imgUrl"`
}

func (p apiParticipant) isSelf(ownerProfileID string) bool {
	if p.Distance == "SELF" || p.Distance == "You" {
		return true
	}
	return ownerProfileID != "" && ProfileID(p.URN) == ownerProfileID
}

type apiPayload struct {
	URN             string           `json:"urn"`
	ThreadURN       string           `json:"threadUrn"`
	Title           string           `json:"title"`
	Participants    []apiParticipant `json:"participants"`
	Text            string           `json:"text"`
	Timestamp       millis           `json:"timestamp"`
	SenderURN       string           `json:"senderUrn"`
	Headline        string           `json:"headline"`
	NetworkDistance string           `json:"networkDistance"`
	ImgURL          string           `json:"imgUrl"`
	URL             string           `json:"url"`
}

// placeholder titles the producer emits before a name is known
var placeholderTitles = map[string]bool{
	"":                 true,
	"unknown":          true,
	"unknown (update)": true,
	"new conversation": true,
	"member":           true,
}

// Decoder turns payloads into events. OwnerProfileID identifies the
// owner in API payloads; without it only participant distance marks
// owner-sent messages.
type Decoder struct {
	OwnerProfileID string
}

// DecodeAPI maps the batched API conversation shape onto a RawEvent.
func (d Decoder) DecodeAPI(data []byte) (domain.RawEvent, error) {
	var p apiPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.RawEvent{}, fmt.Errorf("%w: api: %v", ErrMalformed, err)
	}

	partner := d.partner(p.Participants)
	stable := ProfileID(p.URN)
	if stable == "" && p.URN != "" && !strings.Contains(p.URN, ":") {
		stable = p.URN
	}
	if stable == "" && partner != nil {
		stable = ProfileID(partner.URN)
	}
	if stable == d.OwnerProfileID && partner != nil {
		stable = ProfileID(partner.URN)
	}

	thread := p.ThreadURN
	if thread == "" && p.URN != "" && ProfileID(p.URN) == "" && strings.Contains(p.URN, ":") {
		thread = p.URN
	}

	ev := domain.RawEvent{
		Text:             plainText(p.Text),
		TimestampMs:      int64(p.Timestamp),
		SourceURL:        strings.TrimSpace(p.URL),
		StableIdentifier: stable,
		Headline:         p.Headline,
		NetworkDistance:  p.NetworkDistance,
		ImageRef:         p.ImgURL,
	}
	if thread != "" {
		ev.ThreadIdentifier = threadID(thread)
	}

	ev.ConversationDisplayName = strings.TrimSpace(p.Title)
	if placeholderTitles[strings.ToLower(ev.ConversationDisplayName)] {
		ev.ConversationDisplayName = ""
		if partner != nil {
			ev.ConversationDisplayName = partner.Name
		}
	}
	if partner != nil {
		if ev.Headline == "" {
			ev.Headline = partner.Headline
		}
		if ev.NetworkDistance == "" {
			ev.NetworkDistance = partner.Distance
		}
		if ev.ImageRef == "" {
			ev.ImageRef = partner.ImgURL
		}
	}

	ev.SenderIsOwner, ev.SenderName = d.sender(p)
	return ev, nil
}

// partner picks the first participant that is not the owner. A lone
// participant is taken as the partner.
func (d Decoder) partner(ps []apiParticipant) *apiParticipant {
	for i := range ps {
		if !ps[i].isSelf(d.OwnerProfileID) {
			return &ps[i]
		}
	}
	if len(ps) == 1 {
		return &ps[0]
	}
	return nil
}

func (d Decoder) sender(p apiPayload) (owner bool, name string) {
	if p.SenderURN == "" {
		return false, ""
	}
	senderID := ProfileID(p.SenderURN)
	if d.OwnerProfileID != "" && senderID == d.OwnerProfileID {
		return true, "Me"
	}
	for _, part := range p.Participants {
		if part.URN == p.SenderURN || (senderID != "" && ProfileID(part.URN) == senderID) {
			if part.isSelf(d.OwnerProfileID) {
				return true, "Me"
			}
			return false, part.Name
		}
	}
	return false, ""
}
