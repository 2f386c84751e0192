package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the usage_logs table. Safe to run on every startup.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id TEXT NOT NULL,
		capability TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		cost_cents BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		budget_enforced BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_usage_logs_bot ON usage_logs (bot_id, created_at);
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to init usage schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) LogCall(ctx context.Context, log *Log) error {
	query := `
		INSERT INTO usage_logs (bot_id, capability, provider, model, tier, success, error, cost_cents, duration_ms, budget_enforced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		log.BotID, log.Capability, log.Provider, log.Model, log.Tier,
		log.Success, log.Error, log.CostCents, log.DurationMs, log.BudgetEnforced,
	).Scan(&log.ID, &log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetUsageByBot(ctx context.Context, botID string, from, to time.Time) ([]*Log, error) {
	query := `
		SELECT id, bot_id, capability, provider, model, tier, success, error, cost_cents, duration_ms, budget_enforced, created_at
		FROM usage_logs
		WHERE bot_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, botID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage logs: %w", err)
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		var l Log
		err := rows.Scan(
			&l.ID, &l.BotID, &l.Capability, &l.Provider, &l.Model, &l.Tier,
			&l.Success, &l.Error, &l.CostCents, &l.DurationMs, &l.BudgetEnforced, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage logs: %w", err)
	}

	return logs, nil
}

func (s *PostgresStore) GetTotalCostByBot(ctx context.Context, botID string, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(cost_cents), 0)
		FROM usage_logs
		WHERE bot_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total int64
	err := s.db.QueryRow(ctx, query, botID, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}

	return total, nil
}
