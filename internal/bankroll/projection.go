// Package bankroll derives the bankroll status from the movement log. The
// movement log is the source of truth; Projection only caches what it derived.
package bankroll

import (
	"iter"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"BetSentinel/internal/ledger"
	"BetSentinel/internal/model"
	"BetSentinel/internal/stats"
)

// Source is the read side of the ledger the projection needs.
type Source interface {
	Movements() []model.Movement
	ListBets(filter ledger.Filter, order ledger.Order) iter.Seq[model.Bet]
	Version() uint64
}

// Status is the derived bankroll picture at one ledger version.
type Status struct {
	Balance         decimal.Decimal `json:"balance"`
	Initial         decimal.Decimal `json:"initial"`
	Peak            decimal.Decimal `json:"peak"`
	Drawdown        decimal.Decimal `json:"drawdown"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown"`
	MaxDrawdownPct  float64         `json:"max_drawdown_pct"`
	Deposits        decimal.Decimal `json:"deposits"`
	Withdrawals     decimal.Decimal `json:"withdrawals"`
	SettledPL       decimal.Decimal `json:"settled_pl"`
	PendingExposure decimal.Decimal `json:"pending_exposure"`
	PendingBets     int             `json:"pending_bets"`
	Movements       int             `json:"movements"`
	AsOfSeq         int64           `json:"as_of_seq"`
	Version         uint64          `json:"version"`
	ComputedAt      time.Time       `json:"computed_at"`
}

// Projection caches the Status of the latest ledger version.
type Projection struct {
	mu     sync.Mutex
	src    Source
	now    func() time.Time
	cached *Status
}

func NewProjection(src Source, clock func() time.Time) *Projection {
	if clock == nil {
		clock = time.Now
	}
	return &Projection{src: src, now: clock}
}

// Invalidate drops the cached status. It is wired to ledger events.
func (p *Projection) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

// OnEvent adapts Invalidate to a ledger subscriber.
func (p *Projection) OnEvent(ledger.Event) { p.Invalidate() }

// Status returns the cached status, recomputing it when the ledger moved on.
func (p *Projection) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.cached.Version == p.src.Version() {
		return *p.cached
	}
	st := Compute(p.src)
	st.ComputedAt = p.now()
	p.cached = &st
	return st
}

// Compute derives a Status straight from the source.
func Compute(src Source) Status {
	version := src.Version()
	mvs := src.Movements()

	var st Status
	st.Version = version
	st.Movements = len(mvs)
	if len(mvs) == 0 {
		return st
	}

	st.Initial = mvs[0].Balance
	dd := stats.NewDrawdown(st.Initial)
	levels := make([]decimal.Decimal, 0, len(mvs))
	levels = append(levels, st.Initial)
	for _, m := range mvs[1:] {
		switch m.Kind() {
		case model.MovementSettlement:
			st.SettledPL = st.SettledPL.Add(m.Delta)
		case model.MovementDeposit:
			st.Deposits = st.Deposits.Add(m.Delta)
		case model.MovementWithdrawal:
			st.Withdrawals = st.Withdrawals.Add(m.Delta.Neg())
		}
		dd.Set(m.Balance)
		levels = append(levels, m.Balance)
	}
	last := mvs[len(mvs)-1]
	st.Balance = last.Balance
	st.AsOfSeq = last.Seq
	st.Peak = dd.Peak()
	st.Drawdown = dd.Current()
	st.MaxDrawdown = dd.Max()
	st.MaxDrawdownPct = stats.MaxDrawdownPct(levels)

	for b := range src.ListBets(ledger.Filter{Outcomes: []model.Outcome{model.OutcomePending}}, ledger.Ascending) {
		st.PendingExposure = st.PendingExposure.Add(b.Stake)
		st.PendingBets++
	}
	return st
}
