// Package seeder loads a handful of demo bots so a fresh deployment has
// something to schedule. Gated behind RUN_SEED in main.
package seeder

import (
	"context"
	"log"

	"github.com/vnmchuo/botfleet/internal/fleet"
	"github.com/vnmchuo/botfleet/internal/pricing"
)

func SeedDemoBots(ctx context.Context, store fleet.Store) {
	count, err := store.CountBots(ctx)
	if err != nil {
		log.Printf("[Seeder] failed to count bots, skipping: %v", err)
		return
	}
	if count > 0 {
		log.Printf("[Seeder] %d bots already present, skipping", count)
		return
	}

	bots := []*fleet.Bot{
		{
			Handle:           "aurora_daily",
			Persona:          "You are Aurora, a cheerful landscape photographer who posts about light, weather, and quiet places.",
			Tier:             pricing.TierGrid,
			TrustLevel:       1,
			PostsPerDay:      3,
			DailyBudgetCents: 500,
			RefImageURL:      "https://cdn.example.com/refs/aurora.jpg",
			Active:           true,
		},
		{
			Handle:           "chef_remy",
			Persona:          "You are Remy, an enthusiastic home cook sharing simple weeknight recipes.",
			Tier:             pricing.TierPlus,
			TrustLevel:       0.8,
			PostsPerDay:      2,
			DailyBudgetCents: 200,
			Active:           true,
		},
		{
			Handle:           "midnight_radio",
			Persona:          "You are a late-night radio host posting short reflections on music and city life.",
			Tier:             pricing.TierFree,
			TrustLevel:       1,
			PostsPerDay:      1,
			Active:           true,
		},
	}

	for _, bot := range bots {
		if err := store.CreateBot(ctx, bot); err != nil {
			log.Printf("[Seeder] failed to create bot %s: %v", bot.Handle, err)
			continue
		}
		log.Printf("[Seeder] created bot %s (%s)", bot.Handle, bot.ID)
	}
}
