// Package llm calls the extraction model service. The service receives the
// flattened email text and returns a JSON object of named fields with a
// confidence_scores map; decoding that object into the domain record is the
// extraction package's job.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/refcrm/refcrm/internal/config"
)

// ExtractInput carries everything the model sees for one email.
type ExtractInput struct {
	From            string
	Subject         string
	Body            string
	AttachmentTexts []string
}

type Client struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

func New(cfg *config.Config) *Client {
	timeout := time.Duration(cfg.LLMTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.LLMBaseURL, "/"),
		apiKey:  cfg.LLMAPIKey,
		model:   cfg.LLMModel,
		httpc:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat respFormat    `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You extract structured fields from workers' compensation referral emails. Respond with a single JSON object. Use the exact field names requested, omit fields you cannot find, and include a "confidence_scores" object mapping each returned field name to an integer 0-100.`

// Extract sends one email's text to the model and returns the raw JSON
// object it produced. Callers decode it into their own record type.
func (c *Client) Extract(ctx context.Context, in ExtractInput) (json.RawMessage, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\nSubject: %s\n\n%s", in.From, in.Subject, in.Body)
	for _, txt := range in.AttachmentTexts {
		sb.WriteString("\n\n--- attachment ---\n")
		sb.WriteString(txt)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature:    0,
		ResponseFormat: respFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding extraction response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("extraction response had no choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	// Models sometimes wrap JSON in a markdown fence.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("extraction response was not valid JSON")
	}
	return json.RawMessage(content), nil
}
