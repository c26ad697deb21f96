package identity

import (
	"strings"

	"github.com/pbaille/followup/internal/domain"
)

// OwnerFilter recognises events that describe the owner's own profile
// rather than a conversation partner.
type OwnerFilter struct {
	ProfileID string
	Name      string
}

// IsSelf reports whether ev should be dropped as self-traffic. The name
// check matches on equality or containment and can misfire on partners
// whose name contains the owner's.
func (f OwnerFilter) IsSelf(ev domain.RawEvent) bool {
	if f.ProfileID != "" && ev.StableIdentifier == f.ProfileID {
		return true
	}
	owner := strings.ToLower(strings.TrimSpace(f.Name))
	if owner == "" {
		return false
	}
	counterpart := ev.ConversationDisplayName
	if counterpart == "" {
		counterpart = ev.SenderName
	}
	counterpart = strings.ToLower(strings.TrimSpace(counterpart))
	if counterpart == "" {
		return false
	}
	return counterpart == owner || strings.Contains(counterpart, owner)
}
