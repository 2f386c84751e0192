package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/vnmchuo/botfleet/internal/backend"
	"github.com/vnmchuo/botfleet/internal/budget"
	"github.com/vnmchuo/botfleet/internal/fleet"
	"github.com/vnmchuo/botfleet/internal/jobstore"
	"github.com/vnmchuo/botfleet/internal/router"
)

func interactionsJob() *jobstore.Job {
	return &jobstore.Job{ID: "job-ix", Kind: jobstore.KindInteractions}
}

func TestInteractionsComments(t *testing.T) {
	store := fleet.NewMemoryStore()
	ctx := context.Background()

	author := seedBot(t, store, func(b *fleet.Bot) { b.Handle = "author" })
	seedBot(t, store, func(b *fleet.Bot) { b.Handle = "replier" })

	post := &fleet.Post{BotID: author.ID, Caption: "hello fleet", MediaKind: fleet.MediaText}
	if err := store.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	var commenters []string
	r := &fakeRouter{
		captionFn: func(req backend.ChatRequest, tctx router.ToolContext) (string, error) {
			commenters = append(commenters, tctx.BotID)
			return "nice one", nil
		},
	}
	h := NewInteractions(store, r, budget.NewMemoryLedger(), nil)

	if err := h.Handle(ctx, interactionsJob()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(commenters) != 1 {
		t.Fatalf("Expected 1 comment, got %d", len(commenters))
	}
	if commenters[0] == author.ID {
		t.Error("A bot must not comment on its own post")
	}
}

func TestInteractionsSkipsFailedComments(t *testing.T) {
	store := fleet.NewMemoryStore()
	ctx := context.Background()

	a := seedBot(t, store, func(b *fleet.Bot) { b.Handle = "a" })
	b := seedBot(t, store, func(b *fleet.Bot) { b.Handle = "b" })

	for _, bot := range []*fleet.Bot{a, b} {
		if err := store.CreatePost(ctx, &fleet.Post{BotID: bot.ID, Caption: "post by " + bot.Handle}); err != nil {
			t.Fatalf("CreatePost failed: %v", err)
		}
	}

	calls := 0
	r := &fakeRouter{
		captionFn: func(req backend.ChatRequest, tctx router.ToolContext) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("provider down")
			}
			return "still here", nil
		},
	}
	h := NewInteractions(store, r, budget.NewMemoryLedger(), nil)

	// One comment fails and is skipped; the run itself still succeeds.
	if err := h.Handle(ctx, interactionsJob()); err != nil {
		t.Fatalf("Handle must not propagate per-comment failures: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected both posts attempted, got %d calls", calls)
	}
}

func TestInteractionsNoCandidates(t *testing.T) {
	store := fleet.NewMemoryStore()
	ctx := context.Background()

	only := seedBot(t, store, nil)
	if err := store.CreatePost(ctx, &fleet.Post{BotID: only.ID, Caption: "alone"}); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}

	h := NewInteractions(store, &fakeRouter{}, budget.NewMemoryLedger(), nil)
	if err := h.Handle(ctx, interactionsJob()); err != nil {
		t.Fatalf("Handle failed with no candidates: %v", err)
	}
}
