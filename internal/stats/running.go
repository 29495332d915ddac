package stats

import "github.com/shopspring/decimal"

// Drawdown tracks the deepest peak-to-trough fall of a running total.
// The zero value starts at a total of 0.
type Drawdown struct {
	total decimal.Decimal
	peak  decimal.Decimal
	max   decimal.Decimal
}

// NewDrawdown starts tracking from an initial level, e.g. a bankroll.
func NewDrawdown(start decimal.Decimal) Drawdown {
	return Drawdown{total: start, peak: start}
}

// Add applies delta and returns the new running total.
func (d *Drawdown) Add(delta decimal.Decimal) decimal.Decimal {
	return d.Set(d.total.Add(delta))
}

// Set moves the running total to level.
func (d *Drawdown) Set(level decimal.Decimal) decimal.Decimal {
	d.total = level
	if d.total.GreaterThan(d.peak) {
		d.peak = d.total
	}
	if dd := d.peak.Sub(d.total); dd.GreaterThan(d.max) {
		d.max = dd
	}
	return d.total
}

func (d *Drawdown) Total() decimal.Decimal   { return d.total }
func (d *Drawdown) Peak() decimal.Decimal    { return d.peak }
func (d *Drawdown) Max() decimal.Decimal     { return d.max }
func (d *Drawdown) Current() decimal.Decimal { return d.peak.Sub(d.total) }

// MaxDrawdownPct is the largest fall relative to the peak it fell from, as a fraction.
func MaxDrawdownPct(levels []decimal.Decimal) float64 {
	if len(levels) == 0 {
		return 0
	}
	peak := levels[0]
	worst := 0.0
	for _, l := range levels {
		if l.GreaterThan(peak) {
			peak = l
		}
		if !peak.IsPositive() {
			continue
		}
		if pct := Ratio(peak.Sub(l), peak); pct > worst {
			worst = pct
		}
	}
	return worst
}

// Streak counts consecutive hits and remembers the longest run.
type Streak struct {
	Current int
	Longest int
}

// Hit extends the current run.
func (s *Streak) Hit() {
	s.Current++
	if s.Current > s.Longest {
		s.Longest = s.Current
	}
}

// Break ends the current run.
func (s *Streak) Break() { s.Current = 0 }
