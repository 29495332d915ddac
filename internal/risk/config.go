package risk

import (
	"time"

	"BetSentinel/internal/model"
)

// Config holds the window and rule thresholds.
type Config struct {
	WindowSize             int
	WindowDays             int
	EscalationMultiplier   float64
	LossStreak             int
	ConcentrationThreshold float64
	ConcentrationMinBets   int
	DepletionFraction      float64
	DepletionSpan          time.Duration
	Bands                  Bands
	ObservationLimit       int
}

// Bands are the upper bounds of the low, medium and high severities.
// Scores at or above High are critical.
type Bands struct {
	Low    float64
	Medium float64
	High   float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		WindowSize:             50,
		WindowDays:             30,
		EscalationMultiplier:   2.0,
		LossStreak:             3,
		ConcentrationThreshold: 0.40,
		ConcentrationMinBets:   3,
		DepletionFraction:      0.25,
		DepletionSpan:          7 * 24 * time.Hour,
		Bands:                  Bands{Low: 0.3, Medium: 0.6, High: 0.85},
		ObservationLimit:       500,
	}
}

// Severity maps a score in [0,1] to an alert severity.
func (b Bands) Severity(score float64) model.Severity {
	switch {
	case score < b.Low:
		return model.SeverityLow
	case score < b.Medium:
		return model.SeverityMedium
	case score < b.High:
		return model.SeverityHigh
	default:
		return model.SeverityCritical
	}
}
