// Package engine wires the ledger to the components derived from it and
// exposes the operations the application layer calls.
package engine

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"BetSentinel/internal/backtest"
	"BetSentinel/internal/bankroll"
	"BetSentinel/internal/config"
	"BetSentinel/internal/ledger"
	"BetSentinel/internal/logging"
	"BetSentinel/internal/model"
	"BetSentinel/internal/performance"
	"BetSentinel/internal/recorder"
	"BetSentinel/internal/reconcile"
	"BetSentinel/internal/risk"
	"BetSentinel/internal/sink"
)

// Engine owns the ledger and everything derived from it. Derived components
// are updated synchronously by ledger events in this order: bankroll
// projection, performance aggregator, risk detector, sinks.
type Engine struct {
	cfg  *config.Config
	now  func() time.Time
	log  *logrus.Entry
	rec  recorder.Recorder
	sink *sink.Async

	ledger   *ledger.Ledger
	bankroll *bankroll.Projection
	perf     *performance.Aggregator
	risk     *risk.Detector
	recon    *reconcile.Reconciler
}

// New opens the ledger on rec and restores derived state: closed snapshots and
// alerts from rec, open snapshots rebuilt from the ledger.
func New(ctx context.Context, cfg *config.Config, rec recorder.Recorder, clock func() time.Time) (*Engine, error) {
	if clock == nil {
		clock = time.Now
	}
	l, err := ledger.Open(ctx, rec, ledger.Options{
		InitialBankroll: decimal.NewFromFloat(cfg.Ledger.InitialBankroll),
		Clock:           clock,
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	perf := performance.New(PerformanceConfig(cfg), rec, clock)
	if err := perf.Load(ctx); err != nil {
		return nil, err
	}
	perf.Rebuild(l.Snapshot().Bets)

	rcfg := RiskConfig(cfg)
	det := risk.New(rcfg, l, rec, risk.Rules(rcfg, perf), clock)
	if err := det.Load(ctx); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		now:      clock,
		log:      logging.For("engine"),
		rec:      rec,
		ledger:   l,
		bankroll: bankroll.NewProjection(l, clock),
		perf:     perf,
		risk:     det,
		recon:    reconcile.New(l),
	}
	l.Subscribe(e.bankroll.OnEvent)
	l.Subscribe(perf.OnEvent)
	l.Subscribe(det.OnEvent)

	if _, err := det.Evaluate(ctx); err != nil {
		e.log.Warnf("initial risk evaluation: %v", err)
	}
	if rep := e.recon.Verify(nil); rep.Drifted() {
		e.log.Warnf("bankroll drift on open: %s", rep)
	}
	e.log.Infof("engine ready: balance %s, %d movements, %d tipsters",
		l.Balance(), len(l.Movements()), len(l.Tipsters()))
	return e, nil
}

// PerformanceConfig maps the tier thresholds from configuration.
func PerformanceConfig(cfg *config.Config) performance.Config {
	p := cfg.Performance
	return performance.Config{
		DevelopingMinTips: p.DevelopingMinTips,
		ReliableMinTips:   p.ReliableMinTips,
		EliteMinTips:      p.EliteMinTips,
		EliteROI:          p.EliteROI,
	}
}

// RiskConfig maps the detector thresholds from configuration.
func RiskConfig(cfg *config.Config) risk.Config {
	r := cfg.Risk
	return risk.Config{
		WindowSize:             r.WindowSize,
		WindowDays:             r.WindowDays,
		EscalationMultiplier:   r.EscalationMultiplier,
		LossStreak:             r.LossStreak,
		ConcentrationThreshold: r.ConcentrationThreshold,
		ConcentrationMinBets:   r.ConcentrationMinBets,
		DepletionFraction:      r.DepletionFraction,
		DepletionSpan:          r.DepletionSpan,
		Bands:                  risk.Bands{Low: r.SeverityLow, Medium: r.SeverityMedium, High: r.SeverityHigh},
		ObservationLimit:       r.ObservationLimit,
	}
}

// StartSinks subscribes an async dispatcher over sinks to the ledger. Sinks
// see events after every derived component has processed them.
func (e *Engine) StartSinks(ctx context.Context, queue int, sinks ...sink.Sink) {
	if len(sinks) == 0 || e.sink != nil {
		return
	}
	e.sink = sink.NewAsync(queue, 5*time.Second, sinks...)
	e.sink.Start(ctx)
	e.ledger.Subscribe(e.sink.OnEvent)
	for _, s := range sinks {
		e.log.Infof("sink %s attached", s.Name())
	}
}

// Close drains and closes the sinks. The recorder belongs to the caller.
func (e *Engine) Close() error {
	if e.sink == nil {
		return nil
	}
	return e.sink.Close()
}

// OnAlert registers a hook for newly raised alerts.
func (e *Engine) OnAlert(fn func(model.RiskAlert)) { e.risk.OnRaise(fn) }

func (e *Engine) alertsChanged() {
	if e.sink != nil {
		e.sink.OnEvent(ledger.Event{Kind: sink.EventAlertsChanged, Version: e.ledger.Version(), At: e.now()})
	}
}

// RegisterTipster adds a tipster.
func (e *Engine) RegisterTipster(ctx context.Context, draft model.TipsterDraft, actor string) (model.Tipster, error) {
	t, err := e.ledger.RegisterTipster(ctx, draft, actor)
	if err != nil {
		return model.Tipster{}, err
	}
	return e.perf.Enrich(t), nil
}

// RecordBet validates and appends a bet.
func (e *Engine) RecordBet(ctx context.Context, draft model.BetDraft, actor string) (model.Bet, error) {
	return e.ledger.RecordBet(ctx, draft, actor)
}

// SettleBet moves a pending bet to a terminal outcome and appends its movement.
func (e *Engine) SettleBet(ctx context.Context, id int64, outcome model.Outcome, realized *decimal.Decimal, actor string) (model.Bet, error) {
	return e.ledger.SettleBet(ctx, id, outcome, realized, actor)
}

// AppendMovement records a deposit, withdrawal or adjustment.
func (e *Engine) AppendMovement(ctx context.Context, delta decimal.Decimal, description string, betID *int64, actor string) (model.Movement, error) {
	return e.ledger.AppendMovement(ctx, delta, description, betID, actor)
}

func (e *Engine) ListBets(filter ledger.Filter, order ledger.Order) iter.Seq[model.Bet] {
	return e.ledger.ListBets(filter, order)
}

func (e *Engine) Bet(id int64) (model.Bet, error) { return e.ledger.Bet(id) }

// Tipsters lists registered tipsters with their current tier and rating.
func (e *Engine) Tipsters() []model.Tipster {
	ts := e.ledger.Tipsters()
	for i := range ts {
		ts[i] = e.perf.Enrich(ts[i])
	}
	return ts
}

// GetSnapshot returns the last computed snapshot of a tipster. An empty
// periodKey means the period containing now.
func (e *Engine) GetSnapshot(tipsterID int64, period model.Period, periodKey string) (model.PerformanceSnapshot, error) {
	if _, err := e.ledger.Tipster(tipsterID); err != nil {
		return model.PerformanceSnapshot{}, err
	}
	switch period {
	case model.PeriodDaily, model.PeriodMonthly, model.PeriodAllTime:
	default:
		return model.PerformanceSnapshot{}, model.Invalid("period", fmt.Sprintf("unknown period %q", period))
	}
	if periodKey == "" {
		periodKey = performance.PeriodKey(period, e.now())
	}
	snap, _ := e.perf.Snapshot(tipsterID, period, periodKey)
	return snap, nil
}

// Ranking is the tipster leaderboard over tipsters with at least minTips tips.
func (e *Engine) Ranking(minTips int) []performance.Ranked { return e.perf.Ranking(minTips) }

func (e *Engine) ListActiveAlerts() []model.RiskAlert { return e.risk.ActiveAlerts() }

func (e *Engine) Alerts() []model.RiskAlert { return e.risk.Alerts() }

func (e *Engine) Observations(n int) []model.RiskObservation { return e.risk.Observations(n) }

// ResolveAlert acknowledges an active alert on behalf of actor.
func (e *Engine) ResolveAlert(ctx context.Context, id, actor string) (model.RiskAlert, error) {
	a, err := e.risk.Resolve(ctx, id, actor)
	if err != nil {
		return model.RiskAlert{}, err
	}
	e.alertsChanged()
	return a, nil
}

// Evaluate runs the detector outside the event path, e.g. when the time
// window moved on without ledger writes.
func (e *Engine) Evaluate(ctx context.Context) (risk.Result, error) {
	res, err := e.risk.Evaluate(ctx)
	if err == nil && res.Changed() {
		e.alertsChanged()
	}
	return res, err
}

// CloseElapsed closes the performance periods that ended before now.
func (e *Engine) CloseElapsed(ctx context.Context) (int, error) {
	return e.perf.CloseElapsed(ctx, e.now())
}

func (e *Engine) ExportLedgerRange(from, to time.Time) ledger.LedgerExport {
	return e.ledger.ExportRange(from, to)
}

func (e *Engine) ExportPerformanceRange(period model.Period, fromKey, toKey string) []model.PerformanceSnapshot {
	return e.perf.ExportRange(period, fromKey, toKey)
}

// Status is the derived bankroll status.
func (e *Engine) Status() bankroll.Status { return e.bankroll.Status() }

func (e *Engine) Balance() decimal.Decimal { return e.ledger.Balance() }

// Verify checks the movement log. Drift is reported in the Report.
func (e *Engine) Verify(fromSeq *int64) reconcile.Report { return e.recon.Verify(fromSeq) }

// Repair rewrites drifted balances; see reconcile.Reconciler.Repair.
func (e *Engine) Repair(ctx context.Context, actor string) (reconcile.Report, *model.Movement, error) {
	return e.recon.Repair(ctx, actor)
}

// Rebuild recomputes every derived component from the ledger. It is the
// recovery path when incremental state is suspect.
func (e *Engine) Rebuild(ctx context.Context, actor string) (risk.Result, error) {
	var snap ledger.Snapshot
	e.ledger.WithSnapshot(func(s ledger.Snapshot) {
		snap = s
		e.bankroll.Invalidate()
		e.perf.Rebuild(s.Bets)
		e.risk.Reset()
	})
	res, err := e.Evaluate(ctx)
	if err != nil {
		return res, fmt.Errorf("rebuild risk: %w", err)
	}
	e.log.WithFields(logrus.Fields{"actor": actor, "version": snap.Version, "bets": len(snap.Bets)}).
		Info("derived state rebuilt")
	return res, nil
}

// BacktestRequest selects the bets to replay and how.
type BacktestRequest struct {
	Filter   ledger.Filter
	Strategy backtest.Strategy
	// InitialBankroll defaults to the configured backtest bankroll.
	InitialBankroll decimal.Decimal
	Seed            *uint64
}

// Backtest replays a snapshot of the settled bets on a worker goroutine. The
// ledger is read once up front and never locked during the replay.
func (e *Engine) Backtest(ctx context.Context, req BacktestRequest) <-chan backtest.Result {
	candidates, cfg := e.backtestInput(req)
	e.log.Infof("backtest %q over %d candidates from %s", req.Strategy.Name(), len(candidates), cfg.InitialBankroll)
	return backtest.Start(ctx, candidates, req.Strategy, cfg)
}

// CompareBacktests replays the selected bets under every strategy and ranks
// the results by final bankroll. req.Strategy is ignored.
func (e *Engine) CompareBacktests(ctx context.Context, req BacktestRequest, strategies []backtest.Strategy) []backtest.Result {
	candidates, cfg := e.backtestInput(req)
	e.log.Infof("comparing %d strategies over %d candidates from %s", len(strategies), len(candidates), cfg.InitialBankroll)
	return backtest.Compare(ctx, candidates, strategies, cfg)
}

func (e *Engine) backtestInput(req BacktestRequest) ([]backtest.Candidate, backtest.Config) {
	var bets []model.Bet
	for b := range e.ledger.ListBets(req.Filter, ledger.Ascending) {
		bets = append(bets, b)
	}
	initial := req.InitialBankroll
	if !initial.IsPositive() {
		initial = decimal.NewFromFloat(e.cfg.Backtest.InitialBankroll)
	}
	return backtest.CandidatesFromBets(bets), backtest.Config{InitialBankroll: initial, Seed: req.Seed}
}
