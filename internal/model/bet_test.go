package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func TestRealizedPL(t *testing.T) {
	tests := []struct {
		name     string
		outcome  Outcome
		odds     float64
		stake    string
		supplied *decimal.Decimal
		want     string
		wantErr  bool
	}{
		{"won", OutcomeWon, 2.5, "10", nil, "15", false},
		{"won fractional odds", OutcomeWon, 1.91, "100", nil, "91", false},
		{"lost", OutcomeLost, 3.0, "25", nil, "-25", false},
		{"void", OutcomeVoid, 1.8, "40", nil, "0", false},
		{"pending", OutcomePending, 1.8, "40", nil, "0", false},
		{"cashed out profit", OutcomeCashedOut, 2.0, "10", decPtr("4.5"), "4.5", false},
		{"cashed out at -stake", OutcomeCashedOut, 2.0, "10", decPtr("-10"), "-10", false},
		{"cashed out below -stake", OutcomeCashedOut, 2.0, "10", decPtr("-10.01"), "", true},
		{"cashed out missing value", OutcomeCashedOut, 2.0, "10", nil, "", true},
		{"won mismatched value", OutcomeWon, 2.0, "10", decPtr("11"), "", true},
		{"won matching value", OutcomeWon, 2.0, "10", decPtr("10"), "10", false},
		{"pending with value", OutcomePending, 2.0, "10", decPtr("1"), "", true},
		{"unknown outcome", Outcome("push"), 2.0, "10", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RealizedPL(tt.outcome, tt.odds, dec(tt.stake), tt.supplied)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("RealizedPL = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBetDraftValidate(t *testing.T) {
	base := func() BetDraft {
		return BetDraft{
			Timestamp:   time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
			Competition: "Premier League",
			Odds:        1.9,
			Stake:       dec("10"),
		}
	}
	tests := []struct {
		name   string
		mutate func(*BetDraft)
		field  string
	}{
		{"valid pending", func(*BetDraft) {}, ""},
		{"odds equal one", func(d *BetDraft) { d.Odds = 1.0 }, "odds"},
		{"odds below one", func(d *BetDraft) { d.Odds = 0.5 }, "odds"},
		{"zero stake", func(d *BetDraft) { d.Stake = decimal.Zero }, "stake"},
		{"negative stake", func(d *BetDraft) { d.Stake = dec("-5") }, "stake"},
		{"missing timestamp", func(d *BetDraft) { d.Timestamp = time.Time{} }, "timestamp"},
		{"bad outcome", func(d *BetDraft) { d.Outcome = "half_won" }, "outcome"},
		{"lost with wrong pl", func(d *BetDraft) { d.Outcome = OutcomeLost; d.ProfitLoss = decPtr("-3") }, "profit_loss"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(&d)
			err := d.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestBetWinLoss(t *testing.T) {
	cashLoss := Bet{Outcome: OutcomeCashedOut, ProfitLoss: dec("-2")}
	if !cashLoss.IsLoss() || cashLoss.IsWin() {
		t.Error("negative cash out should count as a loss")
	}
	void := Bet{Outcome: OutcomeVoid}
	if void.IsLoss() || void.IsWin() {
		t.Error("void bet is neither win nor loss")
	}
}
