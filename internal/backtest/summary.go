package backtest

import (
	"github.com/shopspring/decimal"

	"BetSentinel/internal/stats"
)

// Summary aggregates a replay trace.
type Summary struct {
	Steps          int             `json:"steps"`
	Placed         int             `json:"placed"`
	Skipped        int             `json:"skipped"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	WinRate        float64         `json:"win_rate"`
	Staked         decimal.Decimal `json:"staked"`
	Profit         decimal.Decimal `json:"profit"`
	ROI            float64         `json:"roi"`
	Growth         float64         `json:"growth"`
	Peak           decimal.Decimal `json:"peak"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	Sharpe         float64         `json:"sharpe"`
	AvgStake       decimal.Decimal `json:"avg_stake"`
	MinStake       decimal.Decimal `json:"min_stake"`
	MaxStake       decimal.Decimal `json:"max_stake"`
	LongestLosing  int             `json:"longest_losing"`
}

// Summarize computes the summary of a trace starting from initial.
func Summarize(initial decimal.Decimal, steps []Step) Summary {
	s := Summary{Steps: len(steps)}
	dd := stats.NewDrawdown(initial)
	levels := []decimal.Decimal{initial}
	var (
		returns []float64
		streak  stats.Streak
	)
	for _, st := range steps {
		if st.Skipped {
			s.Skipped++
			continue
		}
		s.Placed++
		s.Staked = s.Staked.Add(st.Stake)
		s.Profit = s.Profit.Add(st.PL)
		switch {
		case st.PL.IsPositive():
			s.Wins++
			streak.Break()
		case st.PL.IsNegative():
			s.Losses++
			streak.Hit()
		}
		if s.Placed == 1 || st.Stake.LessThan(s.MinStake) {
			s.MinStake = st.Stake
		}
		if st.Stake.GreaterThan(s.MaxStake) {
			s.MaxStake = st.Stake
		}
		returns = append(returns, stats.Ratio(st.PL, st.Stake))
		dd.Set(st.BankrollAfter)
		levels = append(levels, st.BankrollAfter)
	}

	if s.Placed > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Placed)
		s.AvgStake = s.Staked.DivRound(decimal.NewFromInt(int64(s.Placed)), cents)
	}
	s.ROI = stats.Ratio(s.Profit, s.Staked)
	s.Growth = stats.Ratio(s.Profit, initial)
	s.Peak = dd.Peak()
	s.MaxDrawdown = dd.Max()
	s.MaxDrawdownPct = stats.MaxDrawdownPct(levels)
	s.Sharpe = stats.Sharpe(returns)
	s.LongestLosing = streak.Longest
	return s
}
