package pricing

// Tier is a bot owner's subscription level. It gates model selection in the
// router; the cheapest tier is also what budget enforcement downgrades to.
type Tier string

const (
	TierFree Tier = "FREE"
	TierPlus Tier = "PLUS"
	TierGrid Tier = "GRID"
)

// Premium reports whether the tier buys premium model routing. Unknown tier
// strings never do.
func (t Tier) Premium() bool {
	return t == TierPlus || t == TierGrid
}
