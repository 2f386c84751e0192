// Package handlers holds the job handlers registered on the queue. Handlers
// are the only code that calls the capability router; they own the policy
// for degrading a post when media generation comes back empty.
package handlers

import (
	"context"

	"github.com/vnmchuo/botfleet/internal/backend"
	"github.com/vnmchuo/botfleet/internal/budget"
	"github.com/vnmchuo/botfleet/internal/fleet"
	"github.com/vnmchuo/botfleet/internal/router"
)

// CapabilityRouter is the slice of the router handlers call.
type CapabilityRouter interface {
	GenerateCaption(ctx context.Context, req backend.ChatRequest, tctx router.ToolContext) (string, error)
	GenerateImage(ctx context.Context, req backend.ImageRequest, tctx router.ToolContext) (string, error)
	GenerateVideo(ctx context.Context, req backend.VideoRequest, tctx router.ToolContext) (string, error)
	AnalyzeImage(ctx context.Context, req backend.VisionRequest, tctx router.ToolContext) (string, error)
}

// RateLimiter gates a bot's capability spend per minute. A nil limiter means
// no gate.
type RateLimiter interface {
	Allow(ctx context.Context, key string, n int) (bool, error)
}

// toolContext builds the per-call routing context from the bot record and
// its spend so far today. The router never mutates spend; the telemetry
// observer does the accounting.
func toolContext(ctx context.Context, ledger budget.Ledger, bot *fleet.Bot) (router.ToolContext, error) {
	tctx := router.ToolContext{
		BotID:      bot.ID,
		Tier:       bot.Tier,
		TrustLevel: bot.TrustLevel,
	}
	if bot.DailyBudgetCents <= 0 {
		return tctx, nil
	}

	spent, err := ledger.SpentToday(ctx, bot.ID)
	if err != nil {
		return router.ToolContext{}, err
	}
	tctx.Budget = &router.Budget{
		DailyLimitCents: bot.DailyBudgetCents,
		SpentTodayCents: spent,
	}
	return tctx, nil
}
