package model

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the settlement state of a bet.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeWon       Outcome = "won"
	OutcomeLost      Outcome = "lost"
	OutcomeVoid      Outcome = "void"
	OutcomeCashedOut Outcome = "cashed_out"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeWon, OutcomeLost, OutcomeVoid, OutcomeCashedOut:
		return true
	}
	return false
}

// Terminal reports whether o is a settled outcome.
func (o Outcome) Terminal() bool {
	return o.Valid() && o != OutcomePending
}

// Bet is one wagered event. Values are immutable once published by the ledger;
// settlement produces a new value with the same ID.
type Bet struct {
	ID          int64           `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Competition string          `json:"competition"`
	HomeTeam    string          `json:"home_team"`
	AwayTeam    string          `json:"away_team"`
	BetType     string          `json:"bet_type"`
	Odds        float64         `json:"odds"`
	Stake       decimal.Decimal `json:"stake"`
	Outcome     Outcome         `json:"outcome"`
	ProfitLoss  decimal.Decimal `json:"profit_loss"`
	Note        string          `json:"note,omitempty"`
	TipsterID   *int64          `json:"tipster_id,omitempty"`
	Source      string          `json:"source,omitempty"`
	SettledAt   *time.Time      `json:"settled_at,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
	SettledBy   string          `json:"settled_by,omitempty"`
}

// Settled reports whether the bet carries a terminal outcome.
func (b *Bet) Settled() bool { return b.Outcome.Terminal() }

// IsLoss reports whether the bet lost money on settlement.
func (b *Bet) IsLoss() bool {
	switch b.Outcome {
	case OutcomeLost:
		return true
	case OutcomeCashedOut:
		return b.ProfitLoss.IsNegative()
	}
	return false
}

// IsWin reports whether the bet returned a profit on settlement.
func (b *Bet) IsWin() bool {
	switch b.Outcome {
	case OutcomeWon:
		return true
	case OutcomeCashedOut:
		return b.ProfitLoss.IsPositive()
	}
	return false
}

// Tipster returns the tipster id, or 0 for self-authored bets.
func (b *Bet) Tipster() int64 {
	if b.TipsterID == nil {
		return 0
	}
	return *b.TipsterID
}

// BetDraft is the caller-supplied input of a new bet.
type BetDraft struct {
	Timestamp   time.Time
	Competition string
	HomeTeam    string
	AwayTeam    string
	BetType     string
	Odds        float64
	Stake       decimal.Decimal
	Outcome     Outcome // empty means pending
	ProfitLoss  *decimal.Decimal
	Note        string
	TipsterID   *int64
	Source      string
}

// RealizedPL computes the profit or loss of a settlement.
//   won:        stake * (odds - 1)
//   lost:       -stake
//   void:       0
//   cashed_out: supplied value, which must be >= -stake
// A supplied value for the other outcomes must match the formula.
func RealizedPL(outcome Outcome, odds float64, stake decimal.Decimal, supplied *decimal.Decimal) (decimal.Decimal, error) {
	var pl decimal.Decimal
	switch outcome {
	case OutcomePending:
		if supplied != nil && !supplied.IsZero() {
			return decimal.Zero, Invalid("profit_loss", "must be zero while pending")
		}
		return decimal.Zero, nil
	case OutcomeWon:
		pl = stake.Mul(decimal.NewFromFloat(odds).Sub(decimal.NewFromInt(1)))
	case OutcomeLost:
		pl = stake.Neg()
	case OutcomeVoid:
		pl = decimal.Zero
	case OutcomeCashedOut:
		if supplied == nil {
			return decimal.Zero, Invalid("profit_loss", "required for cashed_out")
		}
		if supplied.LessThan(stake.Neg()) {
			return decimal.Zero, Invalid("profit_loss", fmt.Sprintf("%s is below -stake %s", supplied, stake))
		}
		return *supplied, nil
	default:
		return decimal.Zero, Invalid("outcome", fmt.Sprintf("unknown outcome %q", outcome))
	}
	if supplied != nil && !supplied.Equal(pl) {
		return decimal.Zero, Invalid("profit_loss", fmt.Sprintf("%s does not match %s for %s", supplied, pl, outcome))
	}
	return pl, nil
}

// Validate checks the draft's own fields. Tipster existence is checked by the ledger.
func (d *BetDraft) Validate() error {
	if math.IsNaN(d.Odds) || math.IsInf(d.Odds, 0) {
		return Invalid("odds", fmt.Sprintf("%v is not a finite number", d.Odds))
	}
	if d.Odds <= 1.0 {
		return Invalid("odds", fmt.Sprintf("%.3f must be greater than 1.0", d.Odds))
	}
	if !d.Stake.IsPositive() {
		return Invalid("stake", fmt.Sprintf("%s must be positive", d.Stake))
	}
	if d.Timestamp.IsZero() {
		return Invalid("timestamp", "required")
	}
	outcome := d.Outcome
	if outcome == "" {
		outcome = OutcomePending
	}
	if !outcome.Valid() {
		return Invalid("outcome", fmt.Sprintf("unknown outcome %q", d.Outcome))
	}
	_, err := RealizedPL(outcome, d.Odds, d.Stake, d.ProfitLoss)
	return err
}
