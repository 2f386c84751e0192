package fal

import (
	"context"
	"fmt"

	"github.com/vnmchuo/botfleet/internal/backend"
	"github.com/vnmchuo/botfleet/internal/pricing"
)

type videoRequest struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type videoResponse struct {
	Video struct {
		URL string `json:"url"`
	} `json:"video"`
}

// GenerateVideo submits the requested model's queue endpoint and waits for
// the clip. An empty URL in a completed response means the provider produced
// nothing.
func (c *Client) GenerateVideo(ctx context.Context, req backend.VideoRequest) (string, error) {
	var (
		path    string
		payload videoRequest
	)
	switch req.Model {
	case pricing.ModelVideoShort, pricing.ModelVideoLong:
		path, payload = klingRequest(req)
	case pricing.ModelVideoFallback:
		path, payload = hailuoRequest(req)
	case pricing.ModelVideoLastResort:
		path, payload = wanRequest(req)
	default:
		return "", fmt.Errorf("fal: unknown video model %q", req.Model)
	}

	var resp videoResponse
	if err := c.runQueued(ctx, path, payload, &resp); err != nil {
		return "", err
	}
	return resp.Video.URL, nil
}
