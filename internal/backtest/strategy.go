package backtest

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"BetSentinel/internal/model"
)

// Context is everything a strategy may look at when deciding one step.
type Context struct {
	Step      int
	Bankroll  decimal.Decimal
	Initial   decimal.Decimal
	Candidate Candidate
	Stats     Running
	// Rand is the replay's seeded source; nil unless a seed was configured.
	Rand *rand.Rand
}

// Decision is a strategy's answer for one candidate. A zero or negative
// stake is treated as a skip.
type Decision struct {
	Stake  decimal.Decimal
	Reason string
}

// Skip returns a skip decision.
func Skip(reason string) Decision { return Decision{Reason: reason} }

// Strategy decides the stake for each candidate.
type Strategy interface {
	Name() string
	Decide(c Context) Decision
}

// Progression is a strategy whose stake depends on its own earlier decisions.
// Run calls Fresh once per replay and decides with the returned value, so one
// Progression can be shared by concurrent replays.
type Progression interface {
	Strategy
	Fresh() Strategy
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc struct {
	Label string
	Fn    func(c Context) Decision
}

func (s StrategyFunc) Name() string { return s.Label }

func (s StrategyFunc) Decide(c Context) Decision { return s.Fn(c) }

const cents = 2

// Flat stakes the same amount on every candidate.
type Flat struct {
	Stake decimal.Decimal
}

func (f Flat) Name() string { return "flat " + f.Stake.String() }

func (f Flat) Decide(Context) Decision { return Decision{Stake: f.Stake} }

// Percentage stakes a fixed fraction of the current bankroll.
type Percentage struct {
	Fraction float64
}

func (p Percentage) Name() string { return fmt.Sprintf("percentage %.1f%%", p.Fraction*100) }

func (p Percentage) Decide(c Context) Decision {
	return Decision{Stake: c.Bankroll.Mul(decimal.NewFromFloat(p.Fraction)).Round(cents)}
}

// Kelly stakes the Kelly fraction of the bankroll using the running win rate
// (Laplace-smoothed) as the probability estimate, scaled by Fraction and
// capped at Cap of the bankroll.
type Kelly struct {
	Fraction float64
	Cap      float64
}

func (k Kelly) Name() string { return fmt.Sprintf("kelly x%.2f cap %.0f%%", k.Fraction, k.Cap*100) }

func (k Kelly) Decide(c Context) Decision {
	b := c.Candidate.Odds - 1
	if b <= 0 {
		return Skip("no edge at these odds")
	}
	p := float64(c.Stats.Wins+1) / float64(c.Stats.Wins+c.Stats.Losses+2)
	f := (b*p - (1 - p)) / b
	if f <= 0 {
		return Skip(fmt.Sprintf("negative kelly %.3f", f))
	}
	f *= k.Fraction
	if k.Cap > 0 && f > k.Cap {
		f = k.Cap
	}
	return Decision{Stake: c.Bankroll.Mul(decimal.NewFromFloat(f)).Round(cents), Reason: fmt.Sprintf("kelly %.3f", f)}
}

// Martingale doubles the base stake after every consecutive loss, up to
// MaxDoublings, and resets after a win.
type Martingale struct {
	Base         decimal.Decimal
	MaxDoublings int
}

func (m Martingale) Name() string {
	if m.MaxDoublings <= 0 {
		return fmt.Sprintf("martingale %s uncapped", m.Base)
	}
	return fmt.Sprintf("martingale %s max x%d", m.Base, 1<<m.MaxDoublings)
}

func (m Martingale) Decide(c Context) Decision {
	n := c.Stats.ConsecutiveLosses
	if m.MaxDoublings > 0 && n > m.MaxDoublings {
		n = m.MaxDoublings
	}
	mult := decimal.NewFromFloat(math.Pow(2, float64(n)))
	return Decision{Stake: m.Base.Mul(mult), Reason: fmt.Sprintf("%d losses in a row", c.Stats.ConsecutiveLosses)}
}

// DefaultFibonacciSteps caps the sequence at 55 units.
const DefaultFibonacciSteps = 9

// Fibonacci stakes Base times the Fibonacci number at its position in the
// sequence 1, 1, 2, 3, 5, ... A loss moves one position forward, up to
// MaxSteps; a win moves two positions back, never before the start.
type Fibonacci struct {
	Base     decimal.Decimal
	MaxSteps int
}

func (f Fibonacci) steps() int {
	if f.MaxSteps <= 0 {
		return DefaultFibonacciSteps
	}
	return f.MaxSteps
}

func (f Fibonacci) Name() string {
	return fmt.Sprintf("fibonacci %s max x%d", f.Base, fibonacci(f.steps()))
}

// Decide without Fresh has no memory and positions by the current losing run.
func (f Fibonacci) Decide(c Context) Decision {
	return f.decide(min(c.Stats.ConsecutiveLosses, f.steps()))
}

func (f Fibonacci) Fresh() Strategy { return &fibonacciRun{Fibonacci: f} }

func (f Fibonacci) decide(pos int) Decision {
	return Decision{Stake: f.Base.Mul(decimal.NewFromInt(fibonacci(pos))), Reason: fmt.Sprintf("position %d", pos)}
}

type fibonacciRun struct {
	Fibonacci
	pos          int
	wins, losses int
}

func (r *fibonacciRun) Decide(c Context) Decision {
	for ; r.losses < c.Stats.Losses; r.losses++ {
		r.pos = min(r.pos+1, r.steps())
	}
	for ; r.wins < c.Stats.Wins; r.wins++ {
		r.pos = max(r.pos-2, 0)
	}
	return r.decide(r.pos)
}

// fibonacci returns the n-th number of 1, 1, 2, 3, 5, ... counting from zero.
func fibonacci(n int) int64 {
	a, b := int64(1), int64(1)
	for ; n > 0; n-- {
		a, b = b, a+b
	}
	return a
}

// RandomSelection places a flat stake on each candidate with probability
// Probability, drawn from the replay's seeded source.
type RandomSelection struct {
	Probability float64
	Stake       decimal.Decimal
}

func (r RandomSelection) Name() string {
	return fmt.Sprintf("random %.0f%% flat %s", r.Probability*100, r.Stake)
}

func (r RandomSelection) Decide(c Context) Decision {
	if c.Rand == nil {
		return Skip("no seeded source")
	}
	if c.Rand.Float64() >= r.Probability {
		return Skip("not selected")
	}
	return Decision{Stake: r.Stake}
}

// Params holds the knobs of the built-in strategies. Each strategy reads only
// the fields it needs.
type Params struct {
	Stake        decimal.Decimal
	Fraction     float64
	Cap          float64
	MaxDoublings int
	MaxSteps     int
	Probability  float64
}

// StrategyNames lists the names accepted by ByName.
var StrategyNames = []string{"flat", "percentage", "kelly", "martingale", "fibonacci", "random"}

// ByName builds a built-in strategy from its name and parameters.
func ByName(name string, p Params) (Strategy, error) {
	needStake := func() error {
		if !p.Stake.IsPositive() {
			return model.Invalid("stake", "must be positive")
		}
		return nil
	}
	needFraction := func() error {
		if p.Fraction <= 0 || p.Fraction > 1 {
			return model.Invalid("fraction", "must be in (0,1]")
		}
		return nil
	}

	switch name {
	case "flat":
		if err := needStake(); err != nil {
			return nil, err
		}
		return Flat{Stake: p.Stake}, nil
	case "percentage":
		if err := needFraction(); err != nil {
			return nil, err
		}
		return Percentage{Fraction: p.Fraction}, nil
	case "kelly":
		if err := needFraction(); err != nil {
			return nil, err
		}
		if p.Cap < 0 || p.Cap > 1 {
			return nil, model.Invalid("cap", "must be in [0,1]")
		}
		return Kelly{Fraction: p.Fraction, Cap: p.Cap}, nil
	case "martingale":
		if err := needStake(); err != nil {
			return nil, err
		}
		if p.MaxDoublings < 1 || p.MaxDoublings > 16 {
			return nil, model.Invalid("max_doublings", "must be between 1 and 16")
		}
		return Martingale{Base: p.Stake, MaxDoublings: p.MaxDoublings}, nil
	case "fibonacci":
		if err := needStake(); err != nil {
			return nil, err
		}
		if p.MaxSteps < 1 || p.MaxSteps > 30 {
			return nil, model.Invalid("max_steps", "must be between 1 and 30")
		}
		return Fibonacci{Base: p.Stake, MaxSteps: p.MaxSteps}, nil
	case "random":
		if err := needStake(); err != nil {
			return nil, err
		}
		if p.Probability <= 0 || p.Probability > 1 {
			return nil, model.Invalid("probability", "must be in (0,1]")
		}
		return RandomSelection{Probability: p.Probability, Stake: p.Stake}, nil
	}
	return nil, model.Invalid("strategy", fmt.Sprintf("unknown strategy %q", name))
}
