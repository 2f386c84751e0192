package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vnmchuo/botfleet/internal/backend"
	"github.com/vnmchuo/botfleet/internal/budget"
	"github.com/vnmchuo/botfleet/internal/fleet"
	"github.com/vnmchuo/botfleet/internal/jobstore"
	"github.com/vnmchuo/botfleet/internal/router"
)

const (
	captionMaxTokens   = 150
	captionTemperature = 0.9

	// Long-form requests are what the premium video path serves; short clips
	// stay on the default models.
	videoDurationPremiumSec = 12
	videoDurationShortSec   = 5
)

// Publish generates one post for a bot: caption always, then the payload's
// media kind with degradation when generation comes back empty. An error
// return sends the whole job through the queue's backoff.
type Publish struct {
	fleet   fleet.Store
	router  CapabilityRouter
	ledger  budget.Ledger
	limiter RateLimiter
	logger  *slog.Logger
}

func NewPublish(fleetStore fleet.Store, r CapabilityRouter, ledger budget.Ledger, limiter RateLimiter, logger *slog.Logger) *Publish {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publish{fleet: fleetStore, router: r, ledger: ledger, limiter: limiter, logger: logger}
}

func (h *Publish) Handle(ctx context.Context, job *jobstore.Job) error {
	bot, err := h.fleet.GetBot(ctx, job.BotID)
	if errors.Is(err, fleet.ErrBotNotFound) {
		// Deleted since scheduling; nothing left to do.
		h.logger.Warn("publish job for missing bot", "job_id", job.ID, "bot_id", job.BotID)
		return nil
	}
	if err != nil {
		return err
	}
	if !bot.Active {
		h.logger.Info("skipping publish for inactive bot", "bot_id", bot.ID)
		return nil
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, bot.ID, 1)
		if err != nil {
			return fmt.Errorf("rate limit check failed: %w", err)
		}
		if !allowed {
			// Surfaced as an error so the queue's backoff retries past the
			// rate window.
			return fmt.Errorf("bot %s rate limited", bot.Handle)
		}
	}

	var payload jobstore.PublishPayload
	if err := jobstore.DecodePayload(job, &payload); err != nil {
		return err
	}

	tctx, err := toolContext(ctx, h.ledger, bot)
	if err != nil {
		return fmt.Errorf("failed to load budget for bot %s: %w", bot.ID, err)
	}

	subject := h.describeSubject(ctx, bot, tctx)

	caption, err := h.router.GenerateCaption(ctx, backend.ChatRequest{
		System:      bot.Persona,
		Prompt:      captionPrompt(bot, subject),
		MaxTokens:   captionMaxTokens,
		Temperature: captionTemperature,
	}, tctx)
	if err != nil {
		return fmt.Errorf("caption generation failed: %w", err)
	}

	post := &fleet.Post{BotID: bot.ID, Caption: caption, MediaKind: fleet.MediaText}
	h.attachMedia(ctx, post, bot, payload, caption, tctx)

	if err := h.fleet.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("failed to persist post: %w", err)
	}
	h.logger.Info("post published",
		"bot_id", bot.ID, "post_id", post.ID, "media_kind", string(post.MediaKind))
	return nil
}

// attachMedia walks the degradation ladder: video falls back to image when
// the bot has an identity reference, image falls back to text. An empty
// media URL from the router is an expected outcome, never an error.
func (h *Publish) attachMedia(ctx context.Context, post *fleet.Post, bot *fleet.Bot, payload jobstore.PublishPayload, caption string, tctx router.ToolContext) {
	kind := fleet.MediaKind(payload.MediaKind)

	if kind == fleet.MediaVideo {
		url, err := h.router.GenerateVideo(ctx, backend.VideoRequest{
			Prompt:        mediaPrompt(bot, caption),
			DurationSec:   videoDuration(bot),
			StartFrameURL: bot.RefImageURL,
		}, tctx)
		if err == nil && url != "" {
			post.MediaKind = fleet.MediaVideo
			post.MediaURL = url
			return
		}
		if bot.RefImageURL == "" {
			h.logger.Info("video degraded to text", "bot_id", bot.ID)
			return
		}
		h.logger.Info("video degraded to image", "bot_id", bot.ID)
		kind = fleet.MediaImage
	}

	if kind == fleet.MediaImage {
		url, err := h.router.GenerateImage(ctx, backend.ImageRequest{
			Prompt:      mediaPrompt(bot, caption),
			RefImageURL: bot.RefImageURL,
			Size:        "1024x1024",
		}, tctx)
		if err == nil && url != "" {
			post.MediaKind = fleet.MediaImage
			post.MediaURL = url
			return
		}
		h.logger.Info("image degraded to text", "bot_id", bot.ID)
	}
}

// describeSubject runs vision over the bot's identity reference so the
// caption can mention what the media will actually show. Vision failures
// just drop the grounding.
func (h *Publish) describeSubject(ctx context.Context, bot *fleet.Bot, tctx router.ToolContext) string {
	if bot.RefImageURL == "" {
		return ""
	}
	desc, err := h.router.AnalyzeImage(ctx, backend.VisionRequest{
		Prompt:   "Describe the subject of this image in one sentence.",
		ImageURL: bot.RefImageURL,
	}, tctx)
	if err != nil {
		h.logger.Warn("reference image analysis failed", "bot_id", bot.ID, "error", err)
		return ""
	}
	return desc
}

func videoDuration(bot *fleet.Bot) int {
	if bot.Tier.Premium() {
		return videoDurationPremiumSec
	}
	return videoDurationShortSec
}

func captionPrompt(bot *fleet.Bot, subject string) string {
	p := "Write your next social post. Keep it under two sentences and stay in character."
	if subject != "" {
		p += " The attached media shows: " + subject
	}
	return p
}

func mediaPrompt(bot *fleet.Bot, caption string) string {
	return "A social media visual for the post: " + caption
}
