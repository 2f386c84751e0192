// Package backend defines the uniform adapter surface for external AI
// capability providers. Each backend is independently configured and
// independently failable; the router decides which one serves a request.
// Adapters return ("", nil) when a provider completed but produced nothing
// (content filtering, empty result sets) — callers treat that as "no media",
// not as an error.
package backend

import (
	"context"
	"time"
)

// MaxPollDuration bounds how long an asynchronous provider is polled before
// the attempt is abandoned and the next fallback is tried.
const MaxPollDuration = 5 * time.Minute

// ChatRequest asks for a text completion (captions, comments).
type ChatRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	JSONOutput  bool // request a structured JSON object response
}

// ImageRequest asks for a single generated image.
type ImageRequest struct {
	Model       string
	Prompt      string
	RefImageURL string // identity reference, keeps a subject consistent across posts
	Size        string // e.g. "1024x1024"
}

// VideoRequest asks for a short generated clip.
type VideoRequest struct {
	Model         string
	Prompt        string
	DurationSec   int
	StartFrameURL string // first frame, required by the premium path
}

// VisionRequest asks for an analysis of an existing image.
type VisionRequest struct {
	Model    string
	Prompt   string
	ImageURL string
}

type ChatBackend interface {
	Name() string
	Configured() bool
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

type ImageBackend interface {
	Name() string
	Configured() bool
	Generate(ctx context.Context, req ImageRequest) (string, error)
}

type VideoBackend interface {
	Name() string
	Configured() bool
	Generate(ctx context.Context, req VideoRequest) (string, error)
}

type VisionBackend interface {
	Name() string
	Configured() bool
	Analyze(ctx context.Context, req VisionRequest) (string, error)
}
