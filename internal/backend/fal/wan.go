package fal

import "github.com/vnmchuo/botfleet/internal/backend"

const (
	wanText  = "fal-ai/wan-25-preview/text-to-video"
	wanImage = "fal-ai/wan-25-preview/image-to-video"
)

// wanRequest builds the queue path and payload for a wan generation.
func wanRequest(req backend.VideoRequest) (string, videoRequest) {
	payload := videoRequest{Prompt: req.Prompt, Duration: "5"}
	if req.DurationSec > 5 {
		payload.Duration = "10"
	}
	if req.StartFrameURL != "" {
		payload.ImageURL = req.StartFrameURL
		return wanImage, payload
	}
	return wanText, payload
}
