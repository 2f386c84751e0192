package fal

import (
	"github.com/vnmchuo/botfleet/internal/backend"
	"github.com/vnmchuo/botfleet/internal/pricing"
)

const (
	klingStandardText  = "fal-ai/kling-video/v2/standard/text-to-video"
	klingStandardImage = "fal-ai/kling-video/v2/standard/image-to-video"
	klingProText       = "fal-ai/kling-video/v2/pro/text-to-video"
	klingProImage      = "fal-ai/kling-video/v2/pro/image-to-video"
)

// klingRequest builds the queue path and payload for a kling generation.
// Kling renders fixed 5 or 10 second clips.
func klingRequest(req backend.VideoRequest) (string, videoRequest) {
	payload := videoRequest{Prompt: req.Prompt, Duration: "5"}
	if req.DurationSec > 5 {
		payload.Duration = "10"
	}

	pro := req.Model == pricing.ModelVideoLong
	if req.StartFrameURL != "" {
		payload.ImageURL = req.StartFrameURL
		if pro {
			return klingProImage, payload
		}
		return klingStandardImage, payload
	}
	if pro {
		return klingProText, payload
	}
	return klingStandardText, payload
}
