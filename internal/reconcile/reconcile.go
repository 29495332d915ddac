// Package reconcile verifies and repairs the running-balance invariant of the
// movement log: balance[0] is the initial bankroll and every later balance is
// the previous balance plus that movement's delta.
package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"BetSentinel/internal/logging"
	"BetSentinel/internal/model"
)

// Source is the slice of the ledger the reconciler reads and writes.
type Source interface {
	Movements() []model.Movement
	MovementsFrom(seq int64) []model.Movement
	RewriteBalances(ctx context.Context, corrected []model.Movement, description, actor string) (model.Movement, error)
}

// Report is the outcome of a verification pass. Drift is reported, not raised.
type Report struct {
	FromSeq   int64 `json:"from_seq"`
	Checked   int   `json:"checked"`
	Divergent int   `json:"divergent"`
	// FirstDivergent is the seq of the first movement whose stored balance
	// disagrees with the recomputed one; nil when there is no drift.
	FirstDivergent *int64          `json:"first_divergent,omitempty"`
	Expected       decimal.Decimal `json:"expected"`
	Stored         decimal.Decimal `json:"stored"`
	Drift          decimal.Decimal `json:"drift"`
	FinalDrift     decimal.Decimal `json:"final_drift"`
}

// Drifted reports whether any stored balance diverged.
func (r Report) Drifted() bool { return r.FirstDivergent != nil }

func (r Report) String() string {
	if !r.Drifted() {
		return fmt.Sprintf("%d movements from seq %d consistent", r.Checked, r.FromSeq)
	}
	return fmt.Sprintf("drift at seq %d: stored %s, expected %s (drift %s); %d of %d divergent, final drift %s",
		*r.FirstDivergent, r.Stored, r.Expected, r.Drift, r.Divergent, r.Checked, r.FinalDrift)
}

// Reconciler checks the movement log against its own deltas.
type Reconciler struct {
	src Source
	log *logrus.Entry
}

func New(src Source) *Reconciler {
	return &Reconciler{src: src, log: logging.For("reconcile")}
}

// Verify recomputes balances from deltas and compares them to the stored
// balances. With fromSeq set, checking starts at that movement and trusts the
// stored balance of the one before it.
func (r *Reconciler) Verify(fromSeq *int64) Report {
	var mvs []model.Movement
	start := int64(0)
	if fromSeq != nil && *fromSeq > 0 {
		start = *fromSeq
		mvs = r.src.MovementsFrom(start - 1)
	} else {
		mvs = r.src.Movements()
	}
	return verify(mvs, start)
}

func verify(mvs []model.Movement, start int64) Report {
	rep := Report{FromSeq: start}
	if len(mvs) == 0 {
		return rep
	}

	var running decimal.Decimal
	i := 0
	if mvs[0].Seq < start {
		// Anchor on the stored balance just before the checked range.
		running = mvs[0].Balance
		i = 1
	}
	for ; i < len(mvs); i++ {
		m := mvs[i]
		if m.Seq == 0 {
			running = m.Delta
		} else {
			running = running.Add(m.Delta)
		}
		rep.Checked++
		if running.Equal(m.Balance) {
			continue
		}
		rep.Divergent++
		if rep.FirstDivergent == nil {
			seq := m.Seq
			rep.FirstDivergent = &seq
			rep.Expected = running
			rep.Stored = m.Balance
			rep.Drift = m.Balance.Sub(running)
		}
	}
	last := mvs[len(mvs)-1]
	rep.FinalDrift = last.Balance.Sub(running)
	return rep
}

// Rebuild regenerates every balance from the deltas alone. It does not write;
// applying it to an already consistent log changes nothing.
func (r *Reconciler) Rebuild() []model.Movement {
	return rebuild(r.src.Movements())
}

func rebuild(mvs []model.Movement) []model.Movement {
	out := make([]model.Movement, len(mvs))
	var running decimal.Decimal
	for i, m := range mvs {
		if i == 0 {
			running = m.Delta
		} else {
			running = running.Add(m.Delta)
		}
		m.Balance = running
		out[i] = m
	}
	return out
}

// Repair rewrites drifted balances from deltas and appends an auto-generated
// audit movement. It is the only path that changes stored balances and it is
// a no-op when there is no drift.
func (r *Reconciler) Repair(ctx context.Context, actor string) (Report, *model.Movement, error) {
	mvs := r.src.Movements()
	rep := verify(mvs, 0)
	if !rep.Drifted() {
		return rep, nil, nil
	}

	desc := fmt.Sprintf("auto-generated balance correction: %d movements from seq %d, drift %s",
		rep.Divergent, *rep.FirstDivergent, rep.FinalDrift)
	audit, err := r.src.RewriteBalances(ctx, rebuild(mvs), desc, actor)
	if err != nil {
		return rep, nil, fmt.Errorf("repair balances: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"actor":       actor,
		"first_seq":   *rep.FirstDivergent,
		"divergent":   rep.Divergent,
		"final_drift": rep.FinalDrift.String(),
	}).Warn("bankroll drift repaired")
	return rep, &audit, nil
}
