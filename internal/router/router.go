// Package router turns abstract capability requests into provider calls. It
// owns model selection under tier, trust, and budget constraints, walks the
// video fallback chain, and wraps every provider attempt in telemetry and a
// per-provider circuit breaker.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vnmchuo/botfleet/internal/backend"
	"github.com/vnmchuo/botfleet/internal/pricing"
	"github.com/vnmchuo/botfleet/internal/telemetry"
)

const (
	// Requests at or above this duration count as long-form and may take the
	// premium video path.
	longVideoSec = 10

	// Requests at or below this duration route to the short default model.
	shortVideoMaxSec = 5
)

// videoFallbacks is the direct fallback order once the premium and default
// paths fail, cheapest and fastest first.
var videoFallbacks = []string{pricing.ModelVideoFallback, pricing.ModelVideoLastResort}

type Backends struct {
	Chat   backend.ChatBackend
	Vision backend.VisionBackend
	Images map[string]backend.ImageBackend // keyed by model id
	Videos map[string]backend.VideoBackend // keyed by model id
}

type Router struct {
	backends Backends
	breakers map[string]*gobreaker.CircuitBreaker
	rec      *telemetry.Recorder
	logger   *slog.Logger
}

func New(b Backends, rec *telemetry.Recorder, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := breakers[name]; ok {
			return
		}
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[name] = gobreaker.NewCircuitBreaker(settings)
	}
	if b.Chat != nil {
		add(b.Chat.Name())
	}
	if b.Vision != nil {
		add(b.Vision.Name())
	}
	for _, ib := range b.Images {
		add(ib.Name())
	}
	for _, vb := range b.Videos {
		add(vb.Name())
	}

	return &Router{backends: b, breakers: breakers, rec: rec, logger: logger}
}

// GenerateCaption produces text through the chat backend. Captions have no
// fallback chain; backend errors propagate to the caller.
func (r *Router) GenerateCaption(ctx context.Context, req backend.ChatRequest, tctx ToolContext) (string, error) {
	tctx = enforceBudget(tctx)
	req.Model = SelectModel(tctx)

	chat := r.backends.Chat
	if chat == nil || !chat.Configured() {
		return "", fmt.Errorf("chat backend not configured")
	}
	return r.execute(ctx, r.call(telemetry.KindCaption, chat.Name(), req.Model, tctx), func(ctx context.Context) (string, error) {
		return chat.Complete(ctx, req)
	})
}

// GenerateImage returns a hosted image URL, or "" when nothing was produced.
// Image generation is the first capability shed under budget pressure: an
// exhausted budget returns "" without touching any provider. Provider errors
// are recorded and logged, never returned.
func (r *Router) GenerateImage(ctx context.Context, req backend.ImageRequest, tctx ToolContext) (string, error) {
	if CheckBudget(tctx).Exceeded {
		r.logger.Info("image generation shed by budget",
			"bot_id", tctx.BotID, "tier", string(tctx.Tier))
		return "", nil
	}

	model := pricing.ModelImagePlain
	if req.RefImageURL != "" {
		model = pricing.ModelImageReference
	}
	if o, ok := tctx.Override.(ForceImageModel); ok && o.Model != "" {
		model = o.Model
	}

	ib := r.backends.Images[model]
	if !r.available(ib) {
		r.logger.Warn("image backend unavailable", "model", model)
		return "", nil
	}
	req.Model = model

	url, err := r.execute(ctx, r.call(telemetry.KindImage, ib.Name(), model, tctx), func(ctx context.Context) (string, error) {
		return ib.Generate(ctx, req)
	})
	if err != nil {
		r.logger.Warn("image generation failed", "model", model, "error", err)
		return "", nil
	}
	return url, nil
}

// GenerateVideo walks the video chain: the premium path when eligible, then
// the duration-mapped default, then each direct fallback in order. It
// returns "" with a nil error when every path fails; an absent video is a
// normal outcome that the caller degrades, not an exception.
func (r *Router) GenerateVideo(ctx context.Context, req backend.VideoRequest, tctx ToolContext) (string, error) {
	tctx = enforceBudget(tctx)

	tried := make(map[string]bool)
	try := func(model string) (string, bool) {
		if tried[model] {
			return "", false
		}
		tried[model] = true
		return r.tryVideo(ctx, model, req, tctx)
	}

	premiumModel := pricing.ModelVideoPremium
	forced := false
	if o, ok := tctx.Override.(ForceVideoModel); ok && o.Model != "" {
		premiumModel = o.Model
		forced = true
	}

	eligible := forced || (tctx.Tier.Premium() && req.DurationSec >= longVideoSec && !tctx.BudgetEnforced)
	if eligible && req.StartFrameURL != "" {
		if url, ok := try(premiumModel); ok {
			return url, nil
		}
	}

	defaultModel := pricing.ModelVideoShort
	if req.DurationSec > shortVideoMaxSec {
		defaultModel = pricing.ModelVideoLong
	}
	if url, ok := try(defaultModel); ok {
		return url, nil
	}

	for _, model := range videoFallbacks {
		if url, ok := try(model); ok {
			return url, nil
		}
	}

	r.logger.Warn("video generation exhausted all backends", "bot_id", tctx.BotID)
	return "", nil
}

// AnalyzeImage describes an image with the strongest vision model. Vision is
// never downgraded by tier or budget; errors propagate.
func (r *Router) AnalyzeImage(ctx context.Context, req backend.VisionRequest, tctx ToolContext) (string, error) {
	vision := r.backends.Vision
	if vision == nil || !vision.Configured() {
		return "", fmt.Errorf("vision backend not configured")
	}
	req.Model = pricing.ModelVision

	return r.execute(ctx, r.call(telemetry.KindVision, vision.Name(), req.Model, tctx), func(ctx context.Context) (string, error) {
		return vision.Analyze(ctx, req)
	})
}

// tryVideo runs a single attempt. ok is false for unavailable backends,
// provider errors, and empty results.
func (r *Router) tryVideo(ctx context.Context, model string, req backend.VideoRequest, tctx ToolContext) (string, bool) {
	vb := r.backends.Videos[model]
	if !r.available(vb) {
		r.logger.Debug("video backend unavailable", "model", model)
		return "", false
	}
	req.Model = model

	url, err := r.execute(ctx, r.call(telemetry.KindVideo, vb.Name(), model, tctx), func(ctx context.Context) (string, error) {
		return vb.Generate(ctx, req)
	})
	if err != nil {
		r.logger.Warn("video attempt failed", "model", model, "error", err)
		return "", false
	}
	if url == "" {
		r.logger.Warn("video attempt produced nothing", "model", model)
		return "", false
	}
	return url, true
}

type capabilityBackend interface {
	Name() string
	Configured() bool
}

func (r *Router) available(b capabilityBackend) bool {
	if b == nil || !b.Configured() {
		return false
	}
	cb := r.breakers[b.Name()]
	return cb == nil || cb.State() != gobreaker.StateOpen
}

// execute runs one provider attempt through its circuit breaker, with the
// outcome recorded in telemetry.
func (r *Router) execute(ctx context.Context, call telemetry.Call, fn func(context.Context) (string, error)) (string, error) {
	return r.rec.Track(ctx, call, func(ctx context.Context) (string, error) {
		cb := r.breakers[call.Provider]
		if cb == nil {
			return fn(ctx)
		}
		out, err := cb.Execute(func() (any, error) {
			return fn(ctx)
		})
		if err != nil {
			return "", err
		}
		return out.(string), nil
	})
}

func (r *Router) call(kind telemetry.Kind, provider, model string, tctx ToolContext) telemetry.Call {
	return telemetry.Call{
		Kind:           kind,
		Provider:       provider,
		Model:          model,
		BotID:          tctx.BotID,
		Tier:           string(tctx.Tier),
		BudgetEnforced: tctx.BudgetEnforced,
	}
}
