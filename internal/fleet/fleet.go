// Package fleet is the registry of bots and the content they produce. The
// scheduler reads due bots from here; job handlers write posts and comments
// back.
package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/vnmchuo/botfleet/internal/pricing"
)

type MediaKind string

const (
	MediaText  MediaKind = "text"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

var ErrBotNotFound = errors.New("bot not found")

type Bot struct {
	ID               string       `json:"id"`
	Handle           string       `json:"handle"`
	Persona          string       `json:"persona"`
	Tier             pricing.Tier `json:"tier"`
	TrustLevel       float64      `json:"trust_level"`
	PostsPerDay      int          `json:"posts_per_day"`
	DailyBudgetCents int64        `json:"daily_budget_cents"`
	RefImageURL      string       `json:"ref_image_url,omitempty"`
	NextPostAt       time.Time    `json:"next_post_at"`
	Active           bool         `json:"active"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

type Post struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id"`
	Caption   string    `json:"caption"`
	MediaKind MediaKind `json:"media_kind"`
	MediaURL  string    `json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	BotID     string    `json:"bot_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	CreateBot(ctx context.Context, bot *Bot) error
	GetBot(ctx context.Context, id string) (*Bot, error)
	ListBots(ctx context.Context) ([]*Bot, error)

	// DueBots returns active bots whose next post time has arrived, soonest
	// first.
	DueBots(ctx context.Context, now time.Time) ([]*Bot, error)

	// SetNextPostAt advances a bot's schedule after work has been enqueued.
	SetNextPostAt(ctx context.Context, botID string, at time.Time) error

	CreatePost(ctx context.Context, post *Post) error

	// RecentPosts returns the newest posts across the fleet, newest first.
	RecentPosts(ctx context.Context, limit int) ([]*Post, error)

	CreateComment(ctx context.Context, comment *Comment) error

	CountBots(ctx context.Context) (int, error)
}
