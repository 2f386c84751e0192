package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vnmchuo/botfleet/internal/pricing"
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

// InitSchema creates the fleet tables. Safe to run on every startup.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS bots (
		id UUID PRIMARY KEY,
		handle TEXT NOT NULL UNIQUE,
		persona TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT 'FREE',
		trust_level DOUBLE PRECISION NOT NULL DEFAULT 1,
		posts_per_day INTEGER NOT NULL DEFAULT 3,
		daily_budget_cents BIGINT NOT NULL DEFAULT 0,
		ref_image_url TEXT NOT NULL DEFAULT '',
		next_post_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_bots_due ON bots (next_post_at) WHERE active;

	CREATE TABLE IF NOT EXISTS posts (
		id UUID PRIMARY KEY,
		bot_id UUID NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		caption TEXT NOT NULL DEFAULT '',
		media_kind TEXT NOT NULL DEFAULT 'text',
		media_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_posts_recent ON posts (created_at DESC);

	CREATE TABLE IF NOT EXISTS comments (
		id UUID PRIMARY KEY,
		post_id UUID NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		bot_id UUID NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		body TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to init fleet schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateBot(ctx context.Context, bot *Bot) error {
	normalizeBot(bot)

	query := `
		INSERT INTO bots (id, handle, persona, tier, trust_level, posts_per_day,
			daily_budget_cents, ref_image_url, next_post_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		bot.ID, bot.Handle, bot.Persona, bot.Tier, bot.TrustLevel, bot.PostsPerDay,
		bot.DailyBudgetCents, bot.RefImageURL, bot.NextPostAt, bot.Active,
	).Scan(&bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	return nil
}

const botColumns = `id, handle, persona, tier, trust_level, posts_per_day,
	daily_budget_cents, ref_image_url, next_post_at, active, created_at, updated_at`

func (s *PostgresStore) GetBot(ctx context.Context, id string) (*Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = $1`
	b, err := scanBot(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBotNotFound
		}
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) ListBots(ctx context.Context) ([]*Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots ORDER BY handle`
	return s.queryBots(ctx, query)
}

func (s *PostgresStore) DueBots(ctx context.Context, now time.Time) ([]*Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE active AND next_post_at <= $1 ORDER BY next_post_at`
	return s.queryBots(ctx, query, now)
}

func (s *PostgresStore) SetNextPostAt(ctx context.Context, botID string, at time.Time) error {
	query := `UPDATE bots SET next_post_at = $2, updated_at = NOW() WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, botID, at); err != nil {
		return fmt.Errorf("failed to set next post time: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePost(ctx context.Context, post *Post) error {
	normalizePost(post)

	query := `
		INSERT INTO posts (id, bot_id, caption, media_kind, media_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query,
		post.ID, post.BotID, post.Caption, post.MediaKind, post.MediaURL,
	).Scan(&post.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentPosts(ctx context.Context, limit int) ([]*Post, error) {
	query := `
		SELECT id, bot_id, caption, media_kind, media_url, created_at
		FROM posts ORDER BY created_at DESC LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p := &Post{}
		if err := rows.Scan(&p.ID, &p.BotID, &p.Caption, &p.MediaKind, &p.MediaURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return posts, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment *Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	query := `
		INSERT INTO comments (id, post_id, bot_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query,
		comment.ID, comment.PostID, comment.BotID, comment.Body,
	).Scan(&comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountBots(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM bots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bots: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) queryBots(ctx context.Context, query string, args ...any) ([]*Bot, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close()

	var bots []*Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bots: %w", err)
	}
	return bots, nil
}

func normalizeBot(bot *Bot) {
	if bot.ID == "" {
		bot.ID = uuid.New().String()
	}
	if bot.Tier == "" {
		bot.Tier = pricing.TierFree
	}
	if bot.TrustLevel == 0 {
		bot.TrustLevel = 1
	}
	if bot.PostsPerDay <= 0 {
		bot.PostsPerDay = 3
	}
	if bot.NextPostAt.IsZero() {
		bot.NextPostAt = time.Now().UTC()
	}
}

func normalizePost(post *Post) {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.MediaKind == "" {
		post.MediaKind = MediaText
	}
}

func scanBot(row pgx.Row) (*Bot, error) {
	b := &Bot{}
	err := row.Scan(
		&b.ID, &b.Handle, &b.Persona, &b.Tier, &b.TrustLevel, &b.PostsPerDay,
		&b.DailyBudgetCents, &b.RefImageURL, &b.NextPostAt, &b.Active,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}
