// Package scheduler decides when each bot's next post is due and turns due
// bots into queued jobs. It never generates anything itself: a tick is a
// handful of store reads and enqueues, cheap enough to run every couple of
// minutes while the slow provider work happens on the queue's workers.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vnmchuo/botfleet/internal/fleet"
	"github.com/vnmchuo/botfleet/internal/jobstore"
	"github.com/vnmchuo/botfleet/internal/queue"
)

const (
	minPostsPerDay = 1
	maxPostsPerDay = 48

	// maxWindowOffset caps the random delay added when a computed time rolls
	// forward to the next active window.
	maxWindowOffset = 30 * time.Minute

	// videoShare is the fraction of posts that attempt video for bots whose
	// tier and reference image make video worth trying.
	videoShare = 0.25

	interactionsPerRun = 5
)

// Config shapes the posting cadence. The active window is the span of UTC
// hours bots post in; times computed outside it roll forward to the next
// window start.
type Config struct {
	WindowStartHour int     // default 8
	WindowHours     int     // default 15
	Jitter          float64 // fraction of the posting interval, default 0.3
}

func (c Config) withDefaults() Config {
	if c.WindowHours <= 0 || c.WindowHours > 24 {
		c.WindowHours = 15
	}
	if c.WindowStartHour < 0 || c.WindowStartHour > 23 {
		c.WindowStartHour = 8
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0.3
	}
	return c
}

// JobQueue is the slice of the queue the scheduler needs.
type JobQueue interface {
	Enqueue(ctx context.Context, kind jobstore.Kind, botID string, payload any, opts ...queue.Option) (*jobstore.Job, error)
	HasPending(ctx context.Context, botID string, kind jobstore.Kind) (bool, error)
}

type Scheduler struct {
	fleet  fleet.Store
	queue  JobQueue
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(fleetStore fleet.Store, q JobQueue, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fleet:  fleetStore,
		queue:  q,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// NextRunTime spreads postsPerDay occurrences across the active window and
// jitters each one so the fleet never posts in lockstep. Results landing
// outside the window roll forward to the next window start plus a small
// random offset.
func (s *Scheduler) NextRunTime(now time.Time, postsPerDay int) time.Time {
	if postsPerDay < minPostsPerDay {
		postsPerDay = minPostsPerDay
	}
	if postsPerDay > maxPostsPerDay {
		postsPerDay = maxPostsPerDay
	}

	interval := time.Duration(s.cfg.WindowHours) * time.Hour / time.Duration(postsPerDay)
	jitter := time.Duration((rand.Float64()*2 - 1) * s.cfg.Jitter * float64(interval))
	return s.intoWindow(now.Add(interval + jitter))
}

// intoWindow returns t unchanged when it falls inside the active window,
// otherwise the next window start plus a random offset.
func (s *Scheduler) intoWindow(t time.Time) time.Time {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), s.cfg.WindowStartHour, 0, 0, 0, time.UTC)
	end := start.Add(time.Duration(s.cfg.WindowHours) * time.Hour)

	switch {
	case t.Before(start):
		// Early morning before today's window opens.
	case t.Before(end):
		return t
	default:
		start = start.AddDate(0, 0, 1)
	}
	return start.Add(time.Duration(rand.Int64N(int64(maxWindowOffset))))
}

// Tick enqueues one publish job per due bot, plus one aggregate interactions
// job when anything was enqueued. One bot's failure never blocks the rest.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	bots, err := s.fleet.DueBots(ctx, now)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, bot := range bots {
		ok, err := s.scheduleBot(ctx, bot, now)
		if err != nil {
			s.logger.Error("failed to schedule bot", "bot_id", bot.ID, "handle", bot.Handle, "error", err)
			continue
		}
		if ok {
			enqueued++
		}
	}

	if enqueued > 0 {
		if err := s.scheduleInteractions(ctx); err != nil {
			s.logger.Error("failed to schedule interactions", "error", err)
		}
	}

	if len(bots) > 0 {
		s.logger.Info("scheduler tick", "due", len(bots), "enqueued", enqueued)
	}
	return nil
}

// scheduleBot enqueues the bot's next publish job unless one is already
// live. The bot's next post time only advances once a job actually went in,
// so a suppressed bot is retried on the next tick.
func (s *Scheduler) scheduleBot(ctx context.Context, bot *fleet.Bot, now time.Time) (bool, error) {
	pending, err := s.queue.HasPending(ctx, bot.ID, jobstore.KindPublishPost)
	if err != nil {
		return false, err
	}
	if pending {
		s.logger.Debug("publish job already pending", "bot_id", bot.ID)
		return false, nil
	}

	payload := jobstore.PublishPayload{MediaKind: s.pickMediaKind(bot)}
	if _, err := s.queue.Enqueue(ctx, jobstore.KindPublishPost, bot.ID, payload); err != nil {
		return false, err
	}

	next := s.NextRunTime(now, bot.PostsPerDay)
	if err := s.fleet.SetNextPostAt(ctx, bot.ID, next); err != nil {
		// The job is already in; the pending check suppresses a duplicate on
		// the next tick while the schedule catches up.
		s.logger.Error("failed to advance bot schedule", "bot_id", bot.ID, "error", err)
	}
	return true, nil
}

func (s *Scheduler) scheduleInteractions(ctx context.Context) error {
	pending, err := s.queue.HasPending(ctx, "", jobstore.KindInteractions)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	_, err = s.queue.Enqueue(ctx, jobstore.KindInteractions, "",
		jobstore.InteractionsPayload{MaxComments: interactionsPerRun})
	return err
}

// pickMediaKind chooses what the post should try to be. Video is only worth
// attempting for premium bots with an identity reference; everyone else gets
// an image and lets the handler degrade from there.
func (s *Scheduler) pickMediaKind(bot *fleet.Bot) string {
	if bot.Tier.Premium() && bot.RefImageURL != "" && rand.Float64() < videoShare {
		return string(fleet.MediaVideo)
	}
	return string(fleet.MediaImage)
}
