package fleet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the fleet in maps. Used in tests and local development
// without a database.
type MemoryStore struct {
	mu       sync.Mutex
	bots     map[string]*Bot
	posts    map[string]*Post
	comments map[string]*Comment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bots:     make(map[string]*Bot),
		posts:    make(map[string]*Post),
		comments: make(map[string]*Comment),
	}
}

func (s *MemoryStore) CreateBot(ctx context.Context, bot *Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalizeBot(bot)
	now := time.Now().UTC()
	bot.CreatedAt = now
	bot.UpdatedAt = now
	c := *bot
	s.bots[bot.ID] = &c
	return nil
}

func (s *MemoryStore) GetBot(ctx context.Context, id string) (*Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bots[id]
	if !ok {
		return nil, ErrBotNotFound
	}
	c := *b
	return &c, nil
}

func (s *MemoryStore) ListBots(ctx context.Context) ([]*Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bots := make([]*Bot, 0, len(s.bots))
	for _, b := range s.bots {
		c := *b
		bots = append(bots, &c)
	}
	sort.Slice(bots, func(i, k int) bool { return bots[i].Handle < bots[k].Handle })
	return bots, nil
}

func (s *MemoryStore) DueBots(ctx context.Context, now time.Time) ([]*Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Bot
	for _, b := range s.bots {
		if b.Active && !b.NextPostAt.After(now) {
			c := *b
			due = append(due, &c)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextPostAt.Before(due[k].NextPostAt) })
	return due, nil
}

func (s *MemoryStore) SetNextPostAt(ctx context.Context, botID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.bots[botID]; ok {
		b.NextPostAt = at
		b.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) CreatePost(ctx context.Context, post *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalizePost(post)
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	c := *post
	s.posts[post.ID] = &c
	return nil
}

func (s *MemoryStore) RecentPosts(ctx context.Context, limit int) ([]*Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	posts := make([]*Post, 0, len(s.posts))
	for _, p := range s.posts {
		c := *p
		posts = append(posts, &c)
	}
	sort.Slice(posts, func(i, k int) bool { return posts[i].CreatedAt.After(posts[k].CreatedAt) })
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (s *MemoryStore) CreateComment(ctx context.Context, comment *Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	c := *comment
	s.comments[comment.ID] = &c
	return nil
}

func (s *MemoryStore) CountBots(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bots), nil
}
