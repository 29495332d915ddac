package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Movement is one entry of the balance ledger.
// Invariant: Balance[i] = Balance[i-1] + Delta[i], Balance[0] = initial bankroll.
type Movement struct {
	Seq           int64           `json:"seq"`
	Date          time.Time       `json:"date"`
	Balance       decimal.Decimal `json:"balance"`
	Delta         decimal.Decimal `json:"delta"`
	Description   string          `json:"description"`
	BetID         *int64          `json:"bet_id,omitempty"`
	AutoGenerated bool            `json:"auto_generated,omitempty"`
	Actor         string          `json:"actor,omitempty"`
}

// MovementKind classifies a movement for bankroll summaries.
type MovementKind string

const (
	MovementOpening    MovementKind = "opening"
	MovementSettlement MovementKind = "settlement"
	MovementDeposit    MovementKind = "deposit"
	MovementWithdrawal MovementKind = "withdrawal"
	MovementAudit      MovementKind = "audit"
)

// Kind derives the movement classification from its fields.
func (m *Movement) Kind() MovementKind {
	switch {
	case m.Seq == 0:
		return MovementOpening
	case m.AutoGenerated:
		return MovementAudit
	case m.BetID != nil:
		return MovementSettlement
	case m.Delta.IsNegative():
		return MovementWithdrawal
	default:
		return MovementDeposit
	}
}
