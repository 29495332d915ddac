package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertType enumerates the risk rules.
type AlertType string

const (
	AlertStakeEscalation   AlertType = "stake_escalation"
	AlertLossChasing       AlertType = "loss_chasing"
	AlertConcentration     AlertType = "concentration_risk"
	AlertDepletionVelocity AlertType = "bankroll_depletion_velocity"
)

// Severity is the user-facing alert level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (0) to critical (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// RiskAlert is a user-facing risk signal. At most one alert per (Type, Subject)
// is active at a time.
type RiskAlert struct {
	ID             string           `json:"id"`
	Type           AlertType        `json:"type"`
	Subject        string           `json:"subject"`
	Severity       Severity         `json:"severity"`
	Score          float64          `json:"score"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	DetectedAt     time.Time        `json:"detected_at"`
	Value          *decimal.Decimal `json:"value,omitempty"`
	Recommendation string           `json:"recommendation"`
	Active         bool             `json:"active"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy     string           `json:"resolved_by,omitempty"`
}

// Key identifies the (rule, subject) pair the alert is folded on.
func (a *RiskAlert) Key() string { return string(a.Type) + "|" + a.Subject }

// RiskObservation is a raw anomaly signal used as evidence for alerts.
type RiskObservation struct {
	ID          string           `json:"id"`
	Name        AlertType        `json:"name"`
	Subject     string           `json:"subject"`
	Description string           `json:"description"`
	DetectedAt  time.Time        `json:"detected_at"`
	Severity    float64          `json:"severity"`
	Value       *decimal.Decimal `json:"value,omitempty"`
	Context     map[string]any   `json:"context,omitempty"`
}
