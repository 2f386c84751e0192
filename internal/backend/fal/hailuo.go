package fal

import "github.com/vnmchuo/botfleet/internal/backend"

const (
	hailuoText  = "fal-ai/minimax/hailuo-02-fast/text-to-video"
	hailuoImage = "fal-ai/minimax/hailuo-02-fast/image-to-video"
)

// hailuoRequest builds the queue path and payload for a hailuo generation.
// Hailuo ignores the requested duration and renders a fixed-length clip.
func hailuoRequest(req backend.VideoRequest) (string, videoRequest) {
	payload := videoRequest{Prompt: req.Prompt}
	if req.StartFrameURL != "" {
		payload.ImageURL = req.StartFrameURL
		return hailuoImage, payload
	}
	return hailuoText, payload
}
