package risk

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/shopspring/decimal"

	"BetSentinel/internal/model"
)

// Source is the read side of the ledger the detector scans.
type Source interface {
	RecentBets(since time.Time, n int) []model.Bet
	MovementsSince(t time.Time) []model.Movement
	MovementsFrom(seq int64) []model.Movement
}

// Window is the frozen input of one evaluation: the most recent bets, capped
// by both count and age, and the bankroll movements of the depletion span.
type Window struct {
	Now   time.Time
	Since time.Time
	Bets  []model.Bet // ascending by timestamp, then id
	// Movements starts with the last movement before the span when one exists,
	// so the balance carried into the span is known.
	Movements []model.Movement
}

// BuildWindow snapshots the ledger for one evaluation.
func BuildWindow(src Source, cfg Config, now time.Time) *Window {
	since := now.AddDate(0, 0, -cfg.WindowDays)
	w := &Window{
		Now:   now,
		Since: since,
		Bets:  src.RecentBets(since, cfg.WindowSize),
	}

	mvs := src.MovementsSince(now.Add(-cfg.DepletionSpan))
	if len(mvs) > 0 && mvs[0].Seq > 0 {
		if prev := src.MovementsFrom(mvs[0].Seq - 1); len(prev) > 0 {
			mvs = append([]model.Movement{prev[0]}, mvs...)
		}
	}
	w.Movements = mvs
	return w
}

// TotalStake sums the stakes of every bet in the window.
func (w *Window) TotalStake() decimal.Decimal {
	total := decimal.Zero
	for i := range w.Bets {
		total = total.Add(w.Bets[i].Stake)
	}
	return total
}

// Fingerprint changes whenever the window content changes.
func (w *Window) Fingerprint() uint64 {
	h := fnv.New64a()
	for i := range w.Bets {
		b := &w.Bets[i]
		fmt.Fprintf(h, "b%d:%s:%s;", b.ID, b.Outcome, b.ProfitLoss)
	}
	for _, m := range w.Movements {
		fmt.Fprintf(h, "m%d:%s;", m.Seq, m.Balance)
	}
	return h.Sum64()
}
