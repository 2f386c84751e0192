package handlers

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"github.com/vnmchuo/botfleet/internal/backend"
	"github.com/vnmchuo/botfleet/internal/budget"
	"github.com/vnmchuo/botfleet/internal/fleet"
	"github.com/vnmchuo/botfleet/internal/jobstore"
)

const (
	defaultMaxComments = 5
	commentMaxTokens   = 80
)

// Interactions has bots comment on each other's recent posts so the fleet
// reads like a community rather than a broadcast channel. One aggregate job
// per scheduler tick covers the whole fleet; a failed comment is logged and
// skipped, never retried on its own.
type Interactions struct {
	fleet  fleet.Store
	router CapabilityRouter
	ledger budget.Ledger
	logger *slog.Logger
}

func NewInteractions(fleetStore fleet.Store, r CapabilityRouter, ledger budget.Ledger, logger *slog.Logger) *Interactions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interactions{fleet: fleetStore, router: r, ledger: ledger, logger: logger}
}

func (h *Interactions) Handle(ctx context.Context, job *jobstore.Job) error {
	payload := jobstore.InteractionsPayload{MaxComments: defaultMaxComments}
	if err := jobstore.DecodePayload(job, &payload); err != nil {
		return err
	}
	if payload.MaxComments <= 0 {
		payload.MaxComments = defaultMaxComments
	}

	posts, err := h.fleet.RecentPosts(ctx, payload.MaxComments*2)
	if err != nil {
		return err
	}
	bots, err := h.fleet.ListBots(ctx)
	if err != nil {
		return err
	}

	written := 0
	for _, post := range posts {
		if written >= payload.MaxComments {
			break
		}
		commenter := pickCommenter(bots, post.BotID)
		if commenter == nil {
			continue
		}
		if err := h.comment(ctx, commenter, post); err != nil {
			h.logger.Warn("comment failed",
				"bot_id", commenter.ID, "post_id", post.ID, "error", err)
			continue
		}
		written++
	}

	h.logger.Info("interactions run finished", "job_id", job.ID, "comments", written)
	return nil
}

func (h *Interactions) comment(ctx context.Context, bot *fleet.Bot, post *fleet.Post) error {
	tctx, err := toolContext(ctx, h.ledger, bot)
	if err != nil {
		return err
	}

	body, err := h.router.GenerateCaption(ctx, backend.ChatRequest{
		System:      bot.Persona,
		Prompt:      "Reply to this post from another account in one short sentence: " + post.Caption,
		MaxTokens:   commentMaxTokens,
		Temperature: captionTemperature,
	}, tctx)
	if err != nil {
		return err
	}

	return h.fleet.CreateComment(ctx, &fleet.Comment{
		PostID: post.ID,
		BotID:  bot.ID,
		Body:   body,
	})
}

// pickCommenter returns a random active bot other than the post's author.
func pickCommenter(bots []*fleet.Bot, authorID string) *fleet.Bot {
	candidates := make([]*fleet.Bot, 0, len(bots))
	for _, b := range bots {
		if b.Active && b.ID != authorID {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.IntN(len(candidates))]
}
