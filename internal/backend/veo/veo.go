// Package veo adapts Google's Veo video generation API as the premium video
// backend. Veo runs as a long-running operation: the adapter submits a
// generation request and polls the operation until it finishes or the poll
// budget runs out.
package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vnmchuo/botfleet/internal/backend"
)

type Backend struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
}

type predictRequest struct {
	Instances  []instance  `json:"instances"`
	Parameters *parameters `json:"parameters,omitempty"`
}

type instance struct {
	Prompt string      `json:"prompt"`
	Image  *imageInput `json:"image,omitempty"`
}

type imageInput struct {
	ImageURI string `json:"imageUri"`
	MimeType string `json:"mimeType"`
}

type parameters struct {
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	AspectRatio     string `json:"aspectRatio,omitempty"`
}

type operation struct {
	Name     string      `json:"name"`
	Done     bool        `json:"done"`
	Error    *opError    `json:"error,omitempty"`
	Response *opResponse `json:"response,omitempty"`
}

type opError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type opResponse struct {
	GenerateVideoResponse *videoResponse `json:"generateVideoResponse,omitempty"`
}

type videoResponse struct {
	GeneratedSamples      []sample `json:"generatedSamples"`
	RaiMediaFilteredCount int      `json:"raiMediaFilteredCount,omitempty"`
}

type sample struct {
	Video struct {
		URI string `json:"uri"`
	} `json:"video"`
}

func New(apiKey string) *Backend {
	return &Backend{
		apiKey:       apiKey,
		baseURL:      "https://generativelanguage.googleapis.com",
		pollInterval: 10 * time.Second,
	}
}

func (b *Backend) Name() string { return "veo" }

func (b *Backend) Configured() bool { return b.apiKey != "" }

// Generate submits a video generation and polls the resulting operation.
// A finished operation with every sample filtered out returns ("", nil).
func (b *Backend) Generate(ctx context.Context, req backend.VideoRequest) (string, error) {
	if req.StartFrameURL == "" {
		return "", fmt.Errorf("veo requires a start frame")
	}

	name, err := b.submit(ctx, req)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(backend.MaxPollDuration)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.pollInterval):
		}

		op, err := b.pollOperation(ctx, name)
		if err != nil {
			return "", err
		}
		if op.Error != nil {
			return "", fmt.Errorf("veo operation failed (code %d): %s", op.Error.Code, op.Error.Message)
		}
		if op.Done {
			if op.Response == nil || op.Response.GenerateVideoResponse == nil {
				return "", fmt.Errorf("veo operation finished without a response")
			}
			samples := op.Response.GenerateVideoResponse.GeneratedSamples
			if len(samples) == 0 {
				// All candidates were media-filtered; no video exists.
				return "", nil
			}
			return samples[0].Video.URI, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("veo operation %s did not finish within %s", name, backend.MaxPollDuration)
		}
	}
}

func (b *Backend) submit(ctx context.Context, req backend.VideoRequest) (string, error) {
	apiReq := predictRequest{
		Instances: []instance{{
			Prompt: req.Prompt,
			Image:  &imageInput{ImageURI: req.StartFrameURL, MimeType: "image/png"},
		}},
		Parameters: &parameters{DurationSeconds: req.DurationSec, AspectRatio: "16:9"},
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:predictLongRunning?key=%s", b.baseURL, req.Model, b.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("veo api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var op operation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", fmt.Errorf("veo api returned no operation name")
	}
	return op.Name, nil
}

func (b *Backend) pollOperation(ctx context.Context, name string) (*operation, error) {
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", b.baseURL, name, b.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("veo api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var op operation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, err
	}
	return &op, nil
}
