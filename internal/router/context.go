package router

import (
	"math"

	"github.com/vnmchuo/botfleet/internal/pricing"
)

// Budget is the caller's spend picture for the current day. The router only
// reads it; spend accounting happens outside.
type Budget struct {
	DailyLimitCents int64 `json:"daily_limit_cents"`
	SpentTodayCents int64 `json:"spent_today_cents"`
}

// Override forces a specific model for admin testing. At most one variant is
// carried per call.
type Override interface {
	isOverride()
}

type NoOverride struct{}

type ForceImageModel struct {
	Model string
}

type ForceVideoModel struct {
	Model string
}

func (NoOverride) isOverride()      {}
func (ForceImageModel) isOverride() {}
func (ForceVideoModel) isOverride() {}

// ToolContext carries the routing inputs for a single capability call. It is
// built fresh from the bot record per call and never persisted.
type ToolContext struct {
	BotID          string
	Tier           pricing.Tier
	TrustLevel     float64
	Budget         *Budget
	Override       Override
	BudgetEnforced bool
}

type BudgetStatus struct {
	Exceeded    bool `json:"exceeded"`
	PercentUsed int  `json:"percent_used"`
}

// SelectModel picks the chat model for the caller. Premium tiers with trust
// of at least 0.5 get the premium model; every other combination, unknown
// tiers included, gets the cheap one.
func SelectModel(ctx ToolContext) string {
	if ctx.Tier.Premium() && ctx.TrustLevel >= 0.5 {
		return pricing.ModelChatPremium
	}
	return pricing.ModelChatCheap
}

// CheckBudget reports the caller's budget position. A missing or zero daily
// limit means no budget is configured and nothing is ever exceeded.
func CheckBudget(ctx ToolContext) BudgetStatus {
	if ctx.Budget == nil || ctx.Budget.DailyLimitCents <= 0 {
		return BudgetStatus{}
	}
	pct := float64(ctx.Budget.SpentTodayCents) / float64(ctx.Budget.DailyLimitCents) * 100
	return BudgetStatus{
		Exceeded:    ctx.Budget.SpentTodayCents >= ctx.Budget.DailyLimitCents,
		PercentUsed: int(math.Round(pct)),
	}
}

// enforceBudget downgrades the caller to the cheapest tier once the daily
// limit is spent, so model selection downstream degrades on its own. The
// returned context is a copy; the caller's stays untouched.
func enforceBudget(ctx ToolContext) ToolContext {
	if !CheckBudget(ctx).Exceeded {
		return ctx
	}
	ctx.Tier = pricing.TierFree
	ctx.BudgetEnforced = true
	return ctx
}
