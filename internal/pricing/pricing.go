// Package pricing holds the static per-model cost table used for telemetry
// cost estimates. Costs are flat cents-per-call approximations, not metered
// token billing; they exist so budget enforcement and the ops surface have a
// consistent number to work with.
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Model identifiers known to the router.
const (
	ModelChatPremium = "gpt-4o"
	ModelChatCheap   = "gpt-4o-mini"
	ModelVision      = "gpt-4o"

	ModelImagePlain     = "flux-pro"
	ModelImageReference = "flux-kontext"

	ModelVideoPremium    = "veo-3"
	ModelVideoShort      = "kling-v2-std"
	ModelVideoLong       = "kling-v2-pro"
	ModelVideoFallback   = "hailuo-02-fast"
	ModelVideoLastResort = "wan-2.5-turbo"
)

// Table maps a model identifier to estimated cents per successful call.
type Table map[string]int64

// Default returns the built-in cost table.
func Default() Table {
	return Table{
		ModelChatPremium:     2,
		ModelChatCheap:       1,
		ModelImagePlain:      5,
		ModelImageReference:  8,
		ModelVideoPremium:    150,
		ModelVideoShort:      25,
		ModelVideoLong:       70,
		ModelVideoFallback:   10,
		ModelVideoLastResort: 15,
	}
}

// Load returns the default table, overlaid with entries from the YAML file at
// path when one is configured. The file is a flat "model: cents" mapping.
func Load(path string) (Table, error) {
	table := Default()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cost table: %w", err)
	}

	var overrides map[string]int64
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse cost table: %w", err)
	}
	for model, cents := range overrides {
		table[model] = cents
	}
	return table, nil
}

// CostFor returns the estimated cents per call for a model, 0 when unknown.
func (t Table) CostFor(model string) int64 {
	return t[model]
}
