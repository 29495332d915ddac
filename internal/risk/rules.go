package risk

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"BetSentinel/internal/model"
	"BetSentinel/internal/stats"
)

// Finding is what a rule reports for one subject. It becomes an observation
// and is folded into that subject's alert.
type Finding struct {
	Subject     string
	Score       float64
	Value       *decimal.Decimal
	Title       string
	Description string
	Context     map[string]any
}

// Rule is a stateless scorer over a window.
type Rule interface {
	Type() model.AlertType
	Check(w *Window) []Finding
}

// PerformanceSource supplies tipster standing for concentration findings.
type PerformanceSource interface {
	Standing(tipsterID int64) (tier model.Tier, roi float64, ok bool)
}

// Rules builds the rule set from the configuration. perf may be nil.
func Rules(cfg Config, perf PerformanceSource) []Rule {
	return []Rule{
		StakeEscalation{Multiplier: cfg.EscalationMultiplier},
		LossChasing{Streak: cfg.LossStreak},
		Concentration{Threshold: cfg.ConcentrationThreshold, MinBets: cfg.ConcentrationMinBets, Perf: perf},
		DepletionVelocity{Fraction: cfg.DepletionFraction, Span: cfg.DepletionSpan},
	}
}

const subjectAll = "all"

// StakeEscalation flags a stake that exceeds the previous stake by more than
// Multiplier right after that previous bet lost.
type StakeEscalation struct {
	Multiplier float64
}

func (StakeEscalation) Type() model.AlertType { return model.AlertStakeEscalation }

func (r StakeEscalation) Check(w *Window) []Finding {
	var (
		occurrences, run, longest int
		maxRatio                  float64
		worst                     model.Bet
	)
	for i := 1; i < len(w.Bets); i++ {
		prev, cur := &w.Bets[i-1], &w.Bets[i]
		ratio := stats.Ratio(cur.Stake, prev.Stake)
		if !prev.IsLoss() || ratio <= r.Multiplier {
			run = 0
			continue
		}
		occurrences++
		run++
		if run > longest {
			longest = run
		}
		if ratio > maxRatio {
			maxRatio = ratio
			worst = *cur
		}
	}
	if occurrences == 0 {
		return nil
	}

	score := stats.Clamp01(0.25*(maxRatio/r.Multiplier) + 0.15*float64(longest-1) + 0.05*float64(occurrences-1))
	value := worst.Stake
	return []Finding{{
		Subject: subjectAll,
		Score:   score,
		Value:   &value,
		Title:   "Stake escalation after losses",
		Description: fmt.Sprintf("%d stake raise(s) above %.1fx right after a loss; largest %.1fx to %s on bet %d",
			occurrences, r.Multiplier, maxRatio, worst.Stake, worst.ID),
		Context: map[string]any{
			"occurrences":     occurrences,
			"consecutive":     longest,
			"max_ratio":       maxRatio,
			"multiplier":      r.Multiplier,
			"escalated_bet":   worst.ID,
			"escalated_stake": worst.Stake.String(),
		},
	}}
}

// LossChasing flags a stake above the average stake of a run of at least
// Streak consecutive settled losses that it directly follows.
type LossChasing struct {
	Streak int
}

func (LossChasing) Type() model.AlertType { return model.AlertLossChasing }

func (r LossChasing) Check(w *Window) []Finding {
	var (
		run      int
		runStake decimal.Decimal
		best     *Finding
	)
	for i := range w.Bets {
		b := &w.Bets[i]
		if run >= r.Streak {
			avg := runStake.Div(decimal.NewFromInt(int64(run)))
			if b.Stake.GreaterThan(avg) {
				ratio := stats.Ratio(b.Stake, avg)
				score := stats.Clamp01(0.2*float64(run)/float64(r.Streak) + 0.2*(ratio-1))
				if best == nil || score > best.Score {
					value := b.Stake
					best = &Finding{
						Subject: subjectAll,
						Score:   score,
						Value:   &value,
						Title:   "Loss chasing",
						Description: fmt.Sprintf("stake %s on bet %d after %d straight losses averaging %s (%.1fx)",
							b.Stake, b.ID, run, avg.Round(2), ratio),
						Context: map[string]any{
							"streak":      run,
							"avg_stake":   avg.Round(2).String(),
							"chase_bet":   b.ID,
							"chase_stake": b.Stake.String(),
							"ratio":       ratio,
						},
					}
				}
			}
		}
		if b.IsLoss() {
			run++
			runStake = runStake.Add(b.Stake)
		} else {
			run = 0
			runStake = decimal.Zero
		}
	}
	if best == nil {
		return nil
	}
	return []Finding{*best}
}

// Concentration flags any competition, tipster or bet type holding more than
// Threshold of the window's total stake. Each dimension is scored on its own;
// empty values and self-authored bets are not a subject.
type Concentration struct {
	Threshold float64
	MinBets   int
	Perf      PerformanceSource
}

func (Concentration) Type() model.AlertType { return model.AlertConcentration }

func (r Concentration) Check(w *Window) []Finding {
	if len(w.Bets) < r.MinBets {
		return nil
	}
	total := w.TotalStake()
	if !total.IsPositive() {
		return nil
	}

	dims := []struct {
		name string
		of   func(*model.Bet) string
	}{
		{"competition", func(b *model.Bet) string { return b.Competition }},
		{"tipster", func(b *model.Bet) string {
			if b.TipsterID == nil {
				return ""
			}
			return strconv.FormatInt(*b.TipsterID, 10)
		}},
		{"bet_type", func(b *model.Bet) string { return b.BetType }},
	}

	var out []Finding
	for _, d := range dims {
		stakes := make(map[string]decimal.Decimal)
		counts := make(map[string]int)
		for i := range w.Bets {
			v := d.of(&w.Bets[i])
			if v == "" {
				continue
			}
			stakes[v] = stakes[v].Add(w.Bets[i].Stake)
			counts[v]++
		}
		names := make([]string, 0, len(stakes))
		for v := range stakes {
			names = append(names, v)
		}
		sort.Strings(names)

		for _, v := range names {
			share := stats.Ratio(stakes[v], total)
			if share <= r.Threshold {
				continue
			}
			value := stakes[v]
			f := Finding{
				Subject: d.name + ":" + v,
				Score:   stats.Clamp01((share - r.Threshold) / (1 - r.Threshold)),
				Value:   &value,
				Title:   fmt.Sprintf("Stake concentrated on %s %s", d.name, v),
				Description: fmt.Sprintf("%.0f%% of the window stake (%s of %s over %d bets) is on %s %s, above %.0f%%",
					share*100, value, total, counts[v], d.name, v, r.Threshold*100),
				Context: map[string]any{
					"dimension": d.name,
					"share":     share,
					"bets":      counts[v],
					"total":     total.String(),
				},
			}
			if d.name == "tipster" && r.Perf != nil {
				id, _ := strconv.ParseInt(v, 10, 64)
				if tier, roi, ok := r.Perf.Standing(id); ok {
					f.Description += fmt.Sprintf("; tipster tier %s, ROI %+.1f%%", tier, roi*100)
					f.Context["tier"] = string(tier)
					f.Context["roi"] = roi
				}
			}
			out = append(out, f)
		}
	}
	return out
}

// DepletionVelocity flags a peak-to-trough bankroll fall within Span larger
// than Fraction of the peak.
type DepletionVelocity struct {
	Fraction float64
	Span     time.Duration
}

func (DepletionVelocity) Type() model.AlertType { return model.AlertDepletionVelocity }

func (r DepletionVelocity) Check(w *Window) []Finding {
	if len(w.Movements) < 2 {
		return nil
	}
	var (
		peak    = w.Movements[0].Balance
		worstDD decimal.Decimal
		ddPeak  decimal.Decimal
	)
	for _, m := range w.Movements[1:] {
		if m.Balance.GreaterThan(peak) {
			peak = m.Balance
		}
		if dd := peak.Sub(m.Balance); dd.GreaterThan(worstDD) {
			worstDD = dd
			ddPeak = peak
		}
	}
	if !ddPeak.IsPositive() {
		return nil
	}
	frac := stats.Ratio(worstDD, ddPeak)
	if frac <= r.Fraction {
		return nil
	}

	value := worstDD
	return []Finding{{
		Subject: "bankroll",
		Score:   stats.Clamp01(0.3 + 0.7*(frac-r.Fraction)/(1-r.Fraction)),
		Value:   &value,
		Title:   "Fast bankroll depletion",
		Description: fmt.Sprintf("bankroll fell %s (%.0f%%) from a peak of %s within %s, above %.0f%%",
			worstDD, frac*100, ddPeak, r.Span, r.Fraction*100),
		Context: map[string]any{
			"drawdown": worstDD.String(),
			"peak":     ddPeak.String(),
			"fraction": frac,
			"span":     r.Span.String(),
		},
	}}
}
