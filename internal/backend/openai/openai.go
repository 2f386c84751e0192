// Package openai adapts the OpenAI chat completions API as the chat and
// vision capability backend.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/botfleet/internal/backend"
)

type Backend struct {
	apiKey  string
	baseURL string
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string for text, []contentPart for vision
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func New(apiKey string) *Backend {
	return &Backend{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
	}
}

func (b *Backend) Name() string { return "openai" }

func (b *Backend) Configured() bool { return b.apiKey != "" }

// Complete generates a text completion for captions and comments.
func (b *Backend) Complete(ctx context.Context, req backend.ChatRequest) (string, error) {
	apiReq := chatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, chatMessage{Role: "system", Content: req.System})
	}
	apiReq.Messages = append(apiReq.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSONOutput {
		apiReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return b.complete(ctx, apiReq)
}

// Analyze runs a vision prompt against an image URL.
func (b *Backend) Analyze(ctx context.Context, req backend.VisionRequest) (string, error) {
	apiReq := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &imageRef{URL: req.ImageURL}},
			},
		}},
	}
	return b.complete(ctx, apiReq)
}

func (b *Backend) complete(ctx context.Context, apiReq chatRequest) (string, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/chat/completions", b.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.apiKey))

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", err
	}

	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("openai api returned no choices")
	}

	return apiResp.Choices[0].Message.Content, nil
}
