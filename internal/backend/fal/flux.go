package fal

import (
	"context"
	"fmt"

	"github.com/vnmchuo/botfleet/internal/backend"
	"github.com/vnmchuo/botfleet/internal/pricing"
)

const (
	fluxProPath     = "fal-ai/flux-pro/v1.1"
	fluxKontextPath = "fal-ai/flux-pro/kontext"
)

type imageRequest struct {
	Prompt    string `json:"prompt"`
	ImageURL  string `json:"image_url,omitempty"`
	ImageSize string `json:"image_size,omitempty"`
}

type imageResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// GenerateImage runs a flux image model synchronously. Reference-guided
// models route to the kontext endpoint with the reference attached.
func (c *Client) GenerateImage(ctx context.Context, req backend.ImageRequest) (string, error) {
	apiReq := imageRequest{
		Prompt:    req.Prompt,
		ImageSize: req.Size,
	}
	if apiReq.ImageSize == "" {
		apiReq.ImageSize = "landscape_16_9"
	}

	var path string
	switch req.Model {
	case pricing.ModelImagePlain:
		path = fluxProPath
	case pricing.ModelImageReference:
		path = fluxKontextPath
		apiReq.ImageURL = req.RefImageURL
	default:
		return "", fmt.Errorf("fal: unknown image model %q", req.Model)
	}

	var resp imageResponse
	if err := c.runSync(ctx, path, apiReq, &resp); err != nil {
		return "", err
	}
	if len(resp.Images) == 0 {
		return "", nil
	}
	return resp.Images[0].URL, nil
}
