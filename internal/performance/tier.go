package performance

import (
	"BetSentinel/internal/model"
	"BetSentinel/internal/stats"
)

// Config holds the reliability tier thresholds. A tipster meets a sample-size
// threshold when its tip count is equal to or above it.
type Config struct {
	DevelopingMinTips int
	ReliableMinTips   int
	EliteMinTips      int
	EliteROI          float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{DevelopingMinTips: 10, ReliableMinTips: 30, EliteMinTips: 100, EliteROI: 0.10}
}

// Tier classifies an all-time snapshot. Tiers are recomputed on every call and
// fall as soon as the numbers no longer support them.
func (c Config) Tier(s model.PerformanceSnapshot) model.Tier {
	switch {
	case s.Tips < c.DevelopingMinTips:
		return model.TierNew
	case s.Tips >= c.EliteMinTips && s.ROI > c.EliteROI:
		return model.TierElite
	case s.Tips >= c.ReliableMinTips && s.ROI > 0:
		return model.TierReliable
	default:
		return model.TierDeveloping
	}
}

// Rating scores a snapshot from 0 to 100:
//
//	win rate     25
//	ROI          30  (-20% maps to 0, +20% to full marks)
//	drawdown     25  (max drawdown relative to total stake, lower is better)
//	sample size  20  (full marks at the elite sample size)
func (c Config) Rating(s model.PerformanceSnapshot) float64 {
	if s.Tips == 0 {
		return 0
	}
	winScore := stats.Clamp01(s.WinRate)
	roiScore := stats.Clamp01((s.ROI + 0.2) / 0.4)
	ddScore := 1 - stats.Clamp01(stats.Ratio(s.MaxDrawdown, s.TotalStake))
	sample := stats.Clamp01(float64(s.Tips) / float64(c.EliteMinTips))

	return winScore*25 + roiScore*30 + ddScore*25 + sample*20
}
