package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is the reliability classification of a tipster.
type Tier string

const (
	TierNew        Tier = "New"
	TierDeveloping Tier = "Developing"
	TierReliable   Tier = "Reliable"
	TierElite      Tier = "Elite"
)

// Tipster is a named source of bets. Rating and Tier are derived by the
// performance aggregator and are not stored with the tipster.
type Tipster struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	RegisteredAt time.Time `json:"registered_at"`
	Active       bool      `json:"active"`
	Note         string    `json:"note,omitempty"`
	Rating       float64   `json:"rating"`
	Tier         Tier      `json:"tier"`
}

// TipsterDraft is the input of RegisterTipster.
type TipsterDraft struct {
	Name     string
	Category string
	Note     string
}

// Period granularity of performance snapshots.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "all"
)

// AllTimeKey is the period key of the all-time snapshot.
const AllTimeKey = "all"

// PerformanceSnapshot is the rollup of one tipster over one period.
// Closed snapshots are never mutated.
type PerformanceSnapshot struct {
	TipsterID     int64           `json:"tipster_id"`
	Period        Period          `json:"period"`
	PeriodKey     string          `json:"period_key"`
	Tips          int             `json:"tips"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	WinRate       float64         `json:"win_rate"`
	ROI           float64         `json:"roi"`
	TotalStake    decimal.Decimal `json:"total_stake"`
	Profit        decimal.Decimal `json:"profit"`
	AvgOdds       float64         `json:"avg_odds"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown"`
	MaxLossStreak int             `json:"max_loss_streak"`
	GrossWon      decimal.Decimal `json:"gross_won"`
	GrossLost     decimal.Decimal `json:"gross_lost"`
	// ProfitFactor is GrossWon / GrossLost, zero while nothing has been lost.
	ProfitFactor  float64         `json:"profit_factor"`
	Closed        bool            `json:"closed"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
