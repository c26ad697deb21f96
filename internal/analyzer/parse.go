package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pbaille/followup/internal/domain"
)

const resultSchema = `{
  "type": "object",
  "required": ["decision", "confidence_score", "reason", "category"],
  "properties": {
    "decision": {"type": "string", "enum": ["YES", "NO"]},
    "confidence_score": {"type": "number", "minimum": 0, "maximum": 100},
    "reason": {"type": "string"},
    "category": {"type": "string", "minLength": 1},
    "scenario_type": {"type": ["string", "null"]},
    "sample_follow_up_message": {"type": ["string", "null"]},
    "reminder": {
      "oneOf": [
        {"type": "null"},
        {
          "type": "object",
          "required": ["text"],
          "properties": {
            "text": {"type": "string"},
            "suggested_date": {"type": ["string", "null"]}
          }
        }
      ]
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchema))
	if err != nil {
		panic(fmt.Sprintf("analyzer result schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("analysis-result.json", doc); err != nil {
		panic(fmt.Sprintf("analyzer result schema: %v", err))
	}
	sch, err := c.Compile("analysis-result.json")
	if err != nil {
		panic(fmt.Sprintf("analyzer result schema: %v", err))
	}
	return sch
}

// wireResult accepts the nullable and fractional forms providers emit.
type wireResult struct {
	Decision              domain.Decision `json:"decision"`
	ConfidenceScore       float64         `json:"confidence_score"`
	Reason                string          `json:"reason"`
	Category              string          `json:"category"`
	ScenarioType          *string         `json:"scenario_type"`
	SampleFollowUpMessage *string         `json:"sample_follow_up_message"`
	Reminder              *struct {
		Text          string  `json:"text"`
		SuggestedDate *string `json:"suggested_date"`
	} `json:"reminder"`
}

// ParseResponse validates a raw provider answer against the result schema.
// Any violation yields ErrInvalidResponse and no partial result.
func ParseResponse(resp string) (*domain.AnalysisResult, error) {
	// Clean up response - remove markdown code blocks if present
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(resp))
	if err != nil {
		return nil, fmt.Errorf("%w: parse json: %v (response: %s)", ErrInvalidResponse, err, resp)
	}
	if err := compiledSchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	var w wireResult
	if err := json.Unmarshal([]byte(resp), &w); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidResponse, err)
	}

	result := &domain.AnalysisResult{
		Decision:        w.Decision,
		ConfidenceScore: int(w.ConfidenceScore + 0.5),
		Reason:          w.Reason,
		Category:        w.Category,
	}
	if w.ScenarioType != nil {
		result.ScenarioType = *w.ScenarioType
	}
	if w.SampleFollowUpMessage != nil {
		result.SampleFollowUpMessage = *w.SampleFollowUpMessage
	}
	if w.Reminder != nil {
		result.Reminder = &domain.ReminderSuggestion{Text: w.Reminder.Text}
		if w.Reminder.SuggestedDate != nil {
			result.Reminder.SuggestedDate = *w.Reminder.SuggestedDate
		}
	}
	return result, nil
}
