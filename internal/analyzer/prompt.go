package analyzer

import (
	"fmt"
	"strings"

	"github.com/pbaille/followup/internal/domain"
)

const (
	contextWindow  = 15
	exchangeWindow = 4
)

func buildPrompt(req domain.AnalysisRequest) string {
	var sb strings.Builder

	sb.WriteString("You review a professional messaging inbox and decide whether the owner should send a follow-up message. Return JSON only.\n\n")
	fmt.Fprintf(&sb, "Current date: %s\n", req.Now.Format("Mon Jan 2 2006"))
	if req.ConversationName != "" {
		fmt.Fprintf(&sb, "Conversation with: %s\n", req.ConversationName)
	}
	sb.WriteString("\n")

	sb.WriteString("Background (earlier messages):\n")
	writeMessages(&sb, tail(req.History, contextWindow))
	sb.WriteString("\n")

	sb.WriteString("Active exchange (last messages):\n")
	writeMessages(&sb, tail(req.History, exchangeWindow))
	sb.WriteString("\n")

	sb.WriteString("Input data:\n")
	fmt.Fprintf(&sb, "- Last message: %s\n", req.LastMessageText)
	fmt.Fprintf(&sb, "- Last message sent by owner: %t\n", req.LastMessageSentByOwner)
	fmt.Fprintf(&sb, "- Days since last message: %.1f\n", req.DaysSinceLastMessage)
	fmt.Fprintf(&sb, "- Conversation length: %d\n", req.HistoryLength)
	fmt.Fprintf(&sb, "- Previous decision: %s\n", orDefault(req.PreviousAnalysis.Decision, "None"))
	fmt.Fprintf(&sb, "- Previous reason: %s\n", orDefault(req.PreviousAnalysis.Reason, "N/A"))
	fmt.Fprintf(&sb, "- Previous analysis date: %s\n", orDefault(req.PreviousAnalysis.Date, "N/A"))
	sb.WriteString("\n")

	if len(req.PriorFollowUpDrafts) > 0 {
		sb.WriteString("Follow-ups already sent without a reply (oldest first):\n")
		for _, d := range req.PriorFollowUpDrafts {
			fmt.Fprintf(&sb, "- [%s] %s\n", d.Date.Format("2006-01-02"), d.Message)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`Return a JSON object with this structure:
{
  "decision": "YES" or "NO",
  "confidence_score": 0-100,
  "reason": "specific context for the decision",
  "category": "Recruiter" | "Engineering Leader" | "Peer/Alumni" | "Other",
  "scenario_type": "Inbound Recovery" | "Cold Follow-up" | "Casual Intel" | "Senior Ask" | "Strategic Pivot" | "Timed Deferral" | "Dormant Revival" | "None",
  "sample_follow_up_message": "a short, contextual follow-up draft",
  "reminder": {"text": "what to follow up on", "suggested_date": "YYYY-MM-DD"} or null
}

Rules:
- Answer NO for hard rejections or when a deferral date is still in the future
- Answer NO when nothing changed since a recent previous YES
- Do not repeat the wording of follow-ups already sent
- Keep drafts concise and professional

Return ONLY the JSON, no other text.`)

	return sb.String()
}

func writeMessages(sb *strings.Builder, msgs []domain.Message) {
	if len(msgs) == 0 {
		sb.WriteString("(none)\n")
		return
	}
	for _, m := range msgs {
		who := "Them"
		if m.SentByOwner {
			who = "Me"
		}
		fmt.Fprintf(sb, "[%s] %s (%s): %s\n", m.Timestamp.Format("2006-01-02"), who, m.Sender, m.Text)
	}
}

func tail(msgs []domain.Message, n int) []domain.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
