// Package usage is the durable per-call audit log behind the ops surface.
// The telemetry observer writes one row per capability attempt; the /v1/usage
// endpoint reads them back per bot with a cost rollup.
package usage

import (
	"context"
	"time"
)

type Log struct {
	ID             string    `json:"id"`
	BotID          string    `json:"bot_id"`
	Capability     string    `json:"capability"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	Tier           string    `json:"tier"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	CostCents      int64     `json:"cost_cents"`
	DurationMs     int64     `json:"duration_ms"`
	BudgetEnforced bool      `json:"budget_enforced"`
	CreatedAt      time.Time `json:"created_at"`
}

type Store interface {
	LogCall(ctx context.Context, log *Log) error
	GetUsageByBot(ctx context.Context, botID string, from, to time.Time) ([]*Log, error)
	GetTotalCostByBot(ctx context.Context, botID string, from, to time.Time) (int64, error)
}
