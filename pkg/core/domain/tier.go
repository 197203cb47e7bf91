package domain

import "math"

// TierName is a referrer classification
type TierName string

const (
	TierBronze  TierName = "bronze"
	TierSilver  TierName = "silver"
	TierGold    TierName = "gold"
	TierDiamond TierName = "diamond"
)

type tierBand struct {
	name       TierName
	minSignups int64
	bonusPct   int64
}

// bands are ordered by threshold; a referrer sits in the last band whose
// minimum they have reached.
var bands = []tierBand{
	{TierBronze, 0, 10},
	{TierSilver, 5, 25},
	{TierGold, 15, 50},
	{TierDiamond, 50, 100},
}

// Tier is a referrer's standing derived from their verified signups
type Tier struct {
	Name            TierName `json:"name"`
	BonusPercentage int64    `json:"bonus_percentage"`
	VerifiedSignups int64    `json:"verified_signups"`
	MinSignups      int64    `json:"min_signups"`
	NextTier        TierName `json:"next_tier,omitempty"`
	NextTierAt      int64    `json:"next_tier_at,omitempty"`
	Progress        float64  `json:"progress"`
}

// TierFor computes tier and linear progress toward the next band
func TierFor(verifiedSignups int64) Tier {
	if verifiedSignups < 0 {
		verifiedSignups = 0
	}
	idx := 0
	for i, b := range bands {
		if verifiedSignups >= b.minSignups {
			idx = i
		}
	}
	cur := bands[idx]
	t := Tier{
		Name:            cur.name,
		BonusPercentage: cur.bonusPct,
		VerifiedSignups: verifiedSignups,
		MinSignups:      cur.minSignups,
		Progress:        100,
	}
	if idx+1 < len(bands) {
		next := bands[idx+1]
		span := float64(next.minSignups - cur.minSignups)
		t.NextTier = next.name
		t.NextTierAt = next.minSignups
		t.Progress = math.Min(float64(verifiedSignups-cur.minSignups)/span*100, 100)
	}
	return t
}

// TierBonus is the bonus added to a base signup reward, rounded down
func TierBonus(baseReward int64, t Tier) int64 {
	return baseReward * t.BonusPercentage / 100
}
