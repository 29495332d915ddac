// Package backtest replays settled bets under a staking strategy. A replay is
// a pure function of its inputs: the same candidates, strategy and seed always
// produce the same trace.
package backtest

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"BetSentinel/internal/model"
)

// Status is the terminal state of a replay.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusRuin      Status = "ruin"
	StatusCancelled Status = "cancelled"
)

// Candidate is one historical bet offered to the strategy.
type Candidate struct {
	BetID       int64
	Timestamp   time.Time
	Competition string
	BetType     string
	TipsterID   *int64
	Odds        float64
	Outcome     model.Outcome
	// CashOutReturn is profit per unit staked for cashed-out bets.
	CashOutReturn decimal.Decimal
}

// PL returns the profit or loss of staking stake on the candidate.
func (c Candidate) PL(stake decimal.Decimal) decimal.Decimal {
	switch c.Outcome {
	case model.OutcomeWon:
		return stake.Mul(decimal.NewFromFloat(c.Odds).Sub(decimal.NewFromInt(1)))
	case model.OutcomeLost:
		return stake.Neg()
	case model.OutcomeCashedOut:
		return stake.Mul(c.CashOutReturn)
	}
	return decimal.Zero
}

// CandidatesFromBets turns settled bets into replay candidates ordered by
// timestamp then id. Pending bets have no outcome to replay and are dropped.
func CandidatesFromBets(bets []model.Bet) []Candidate {
	out := make([]Candidate, 0, len(bets))
	for _, b := range bets {
		if !b.Settled() {
			continue
		}
		c := Candidate{
			BetID:       b.ID,
			Timestamp:   b.Timestamp,
			Competition: b.Competition,
			BetType:     b.BetType,
			TipsterID:   b.TipsterID,
			Odds:        b.Odds,
			Outcome:     b.Outcome,
		}
		if b.Outcome == model.OutcomeCashedOut && b.Stake.IsPositive() {
			c.CashOutReturn = b.ProfitLoss.DivRound(b.Stake, 8)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].BetID < out[j].BetID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Config parameterizes a replay.
type Config struct {
	InitialBankroll decimal.Decimal
	// Seed, when set, seeds the source handed to strategies through Context.Rand.
	Seed *uint64
}

// Running is the performance accumulated so far in a replay.
type Running struct {
	Placed            int
	Skipped           int
	Wins              int
	Losses            int
	ConsecutiveLosses int
	ConsecutiveWins   int
	Staked            decimal.Decimal
	Profit            decimal.Decimal
	LastStake         decimal.Decimal
}

func (r *Running) record(stake, pl decimal.Decimal) {
	r.Placed++
	r.Staked = r.Staked.Add(stake)
	r.Profit = r.Profit.Add(pl)
	r.LastStake = stake
	switch {
	case pl.IsPositive():
		r.Wins++
		r.ConsecutiveWins++
		r.ConsecutiveLosses = 0
	case pl.IsNegative():
		r.Losses++
		r.ConsecutiveLosses++
		r.ConsecutiveWins = 0
	}
}

// Step is one entry of the replay trace.
type Step struct {
	Index          int             `json:"index"`
	BetID          int64           `json:"bet_id"`
	Odds           float64         `json:"odds"`
	Outcome        model.Outcome   `json:"outcome"`
	Skipped        bool            `json:"skipped"`
	Reason         string          `json:"reason,omitempty"`
	Stake          decimal.Decimal `json:"stake"`
	Clamped        bool            `json:"clamped,omitempty"`
	PL             decimal.Decimal `json:"pl"`
	BankrollBefore decimal.Decimal `json:"bankroll_before"`
	BankrollAfter  decimal.Decimal `json:"bankroll_after"`
}

// Result is the outcome of a replay. Ruin and cancellation are statuses, not errors.
type Result struct {
	Strategy string          `json:"strategy"`
	Status   Status          `json:"status"`
	Initial  decimal.Decimal `json:"initial"`
	Final    decimal.Decimal `json:"final"`
	Steps    []Step          `json:"steps"`
	Summary  Summary         `json:"summary"`
}

// Run replays candidates in order. Between steps it checks ctx and, when
// cancelled, returns the trace so far with StatusCancelled.
func Run(ctx context.Context, candidates []Candidate, strategy Strategy, cfg Config) Result {
	res := Result{
		Strategy: strategy.Name(),
		Status:   StatusCompleted,
		Initial:  cfg.InitialBankroll,
		Final:    cfg.InitialBankroll,
		Steps:    make([]Step, 0, len(candidates)),
	}

	if p, ok := strategy.(Progression); ok {
		strategy = p.Fresh()
	}

	var rng *rand.Rand
	if cfg.Seed != nil {
		rng = rand.New(rand.NewPCG(*cfg.Seed, *cfg.Seed^0x9e3779b97f4a7c15))
	}

	bankroll := cfg.InitialBankroll
	var running Running
	for i, cand := range candidates {
		if !bankroll.IsPositive() {
			res.Status = StatusRuin
			break
		}
		if ctx.Err() != nil {
			res.Status = StatusCancelled
			break
		}

		d := strategy.Decide(Context{
			Step:      i,
			Bankroll:  bankroll,
			Initial:   cfg.InitialBankroll,
			Candidate: cand,
			Stats:     running,
			Rand:      rng,
		})
		step := Step{
			Index:          i,
			BetID:          cand.BetID,
			Odds:           cand.Odds,
			Outcome:        cand.Outcome,
			Reason:         d.Reason,
			Stake:          d.Stake,
			BankrollBefore: bankroll,
		}
		if !d.Stake.IsPositive() {
			step.Skipped = true
			step.Stake = decimal.Zero
			running.Skipped++
		} else {
			if d.Stake.GreaterThan(bankroll) {
				step.Stake = bankroll
				step.Clamped = true
			}
			step.PL = cand.PL(step.Stake)
			bankroll = bankroll.Add(step.PL)
			running.record(step.Stake, step.PL)
		}
		step.BankrollAfter = bankroll
		res.Steps = append(res.Steps, step)
	}
	if res.Status == StatusCompleted && !bankroll.IsPositive() {
		res.Status = StatusRuin
	}

	res.Final = bankroll
	res.Summary = Summarize(cfg.InitialBankroll, res.Steps)
	return res
}

// Start runs the replay on its own goroutine. The channel yields exactly one
// Result and is then closed.
func Start(ctx context.Context, candidates []Candidate, strategy Strategy, cfg Config) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- Run(ctx, candidates, strategy, cfg)
	}()
	return out
}

// Compare replays the same candidates under every strategy, each on its own
// goroutine, and returns the results ranked by final bankroll, best first.
// Ties keep the order the strategies were given in.
func Compare(ctx context.Context, candidates []Candidate, strategies []Strategy, cfg Config) []Result {
	results := make([]Result, len(strategies))
	var wg sync.WaitGroup
	for i, s := range strategies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = Run(ctx, candidates, s, cfg)
		}()
	}
	wg.Wait()
	sort.SliceStable(results, func(i, j int) bool { return results[i].Final.GreaterThan(results[j].Final) })
	return results
}
