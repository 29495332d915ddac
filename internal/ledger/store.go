package ledger

import (
	"context"

	"BetSentinel/internal/model"
)

// State is everything the ledger needs to rebuild its in-memory index.
type State struct {
	Tipsters  []model.Tipster
	Bets      []model.Bet
	Movements []model.Movement
}

// Store persists ledger records. Each method is one atomic unit: either all of
// its rows are written or none are.
type Store interface {
	Load(ctx context.Context) (*State, error)
	InsertTipster(ctx context.Context, t model.Tipster) error
	// InsertBet writes a new bet; mv is non-nil when the bet arrives already settled.
	InsertBet(ctx context.Context, bet model.Bet, mv *model.Movement) error
	// SettleBet updates the bet and appends its settlement movement together.
	SettleBet(ctx context.Context, bet model.Bet, mv model.Movement) error
	InsertMovement(ctx context.Context, mv model.Movement) error
	// RewriteBalances replaces stored balances and appends the audit movement together.
	RewriteBalances(ctx context.Context, corrected []model.Movement, audit model.Movement) error
}
