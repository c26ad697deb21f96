package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pbaille/followup/internal/domain"
)

const (
	openaiAPI          = "https://api.openai.com"
	openaiDefaultModel = "gpt-4o-mini"
)

// OpenAI analyzes conversations via the chat completions API in JSON mode.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAI creates an OpenAI analyzer.
func NewOpenAI(cfg Config) *OpenAI {
	model := cfg.Model
	if model == "" {
		model = openaiDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openaiAPI
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  cfg.client(),
	}
}

type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []openaiMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	reqBody := openaiRequest{
		Model: o.model,
		Messages: []openaiMessage{
			{Role: "system", Content: "You respond with a single JSON object."},
			{Role: "user", Content: buildPrompt(req)},
		},
	}
	reqBody.ResponseFormat.Type = "json_object"

	body, err := postJSON(ctx, o.client, "openai", o.baseURL+"/v1/chat/completions", map[string]string{
		"Authorization": "Bearer " + o.apiKey,
	}, reqBody)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrInvalidResponse)
	}
	return ParseResponse(apiResp.Choices[0].Message.Content)
}
