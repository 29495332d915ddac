package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"BetSentinel/internal/backtest"
	"BetSentinel/internal/config"
	"BetSentinel/internal/ledger"
	"BetSentinel/internal/model"
	"BetSentinel/internal/recorder"
	"BetSentinel/internal/sink"
)

var t0 = time.Date(2024, 4, 15, 10, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Ledger.InitialBankroll = 1000
	cfg.Backtest.InitialBankroll = 1000
	return cfg
}

func newEngine(t *testing.T, rec recorder.Recorder, c *clock) *Engine {
	t.Helper()
	e, err := New(context.Background(), testConfig(t), rec, c.now)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func (c *clock) draft(comp string, stake int64, outcome model.Outcome, tipster *int64) model.BetDraft {
	c.advance(time.Minute)
	return model.BetDraft{
		Timestamp:   c.t,
		Competition: comp,
		HomeTeam:    "Home",
		AwayTeam:    "Away",
		BetType:     "1X2",
		Odds:        2.0,
		Stake:       decimal.NewFromInt(stake),
		Outcome:     outcome,
		TipsterID:   tipster,
	}
}

func TestEngine_SettlementFlowsIntoDerivedState(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: t0}
	e := newEngine(t, recorder.NewMemoryRecorder(), c)

	tip, err := e.RegisterTipster(ctx, model.TipsterDraft{Name: "Sharp"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if tip.Tier != model.TierNew {
		t.Errorf("new tipster tier = %s", tip.Tier)
	}
	won, err := e.RecordBet(ctx, c.draft("Serie A", 10, "", &tip.ID), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SettleBet(ctx, won.ID, model.OutcomeWon, nil, "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RecordBet(ctx, c.draft("La Liga", 10, model.OutcomeLost, &tip.ID), "user-1"); err != nil {
		t.Fatal(err)
	}

	snap, err := e.GetSnapshot(tip.ID, model.PeriodDaily, "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Tips != 2 || snap.Wins != 1 || !snap.Profit.IsZero() || snap.PeriodKey != "2024-04-15" {
		t.Errorf("daily snapshot = %+v", snap)
	}
	st := e.Status()
	if !st.Balance.Equal(decimal.NewFromInt(1000)) || !st.SettledPL.IsZero() || st.Movements != 3 {
		t.Errorf("status = %+v", st)
	}
	if rep := e.Verify(nil); rep.Drifted() {
		t.Errorf("unexpected drift: %s", rep)
	}
}

func TestEngine_GetSnapshotErrors(t *testing.T) {
	e := newEngine(t, recorder.NewMemoryRecorder(), &clock{t: t0})
	if _, err := e.GetSnapshot(42, model.PeriodAllTime, ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown tipster: err = %v", err)
	}
	tip, err := e.RegisterTipster(context.Background(), model.TipsterDraft{Name: "X"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.GetSnapshot(tip.ID, "weekly", ""); !errors.Is(err, model.ErrValidation) {
		t.Errorf("unknown period: err = %v", err)
	}
	snap, err := e.GetSnapshot(tip.ID, model.PeriodAllTime, "")
	if err != nil || snap.Tips != 0 || snap.PeriodKey != model.AllTimeKey {
		t.Errorf("empty snapshot = %+v, %v", snap, err)
	}
}

func TestEngine_AlertsAndResolution(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: t0}
	rec := recorder.NewMemoryRecorder()
	e := newEngine(t, rec, c)

	var raised []model.RiskAlert
	e.OnAlert(func(a model.RiskAlert) { raised = append(raised, a) })
	for i := 0; i < 3; i++ {
		if _, err := e.RecordBet(ctx, c.draft("", 10, model.OutcomeLost, nil), "user-1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.RecordBet(ctx, c.draft("", 50, "", nil), "user-1"); err != nil {
		t.Fatal(err)
	}

	var chasing *model.RiskAlert
	for _, a := range e.ListActiveAlerts() {
		if a.Type == model.AlertLossChasing {
			chasing = &a
		}
	}
	if chasing == nil {
		t.Fatalf("no loss-chasing alert in %+v", e.ListActiveAlerts())
	}
	if len(raised) == 0 {
		t.Error("alert hook was not called")
	}

	if _, err := e.ResolveAlert(ctx, chasing.ID, "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ResolveAlert(ctx, chasing.ID, "user-1"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("second resolve: err = %v", err)
	}
	if _, err := e.ResolveAlert(ctx, "nope", "user-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown alert: err = %v", err)
	}

	restarted := newEngine(t, rec, c)
	for _, a := range restarted.ListActiveAlerts() {
		if a.Type == model.AlertLossChasing {
			t.Errorf("resolved alert active again after restart: %+v", a)
		}
	}
}

func TestEngine_RestartRebuildsPerformance(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: t0}
	rec := recorder.NewMemoryRecorder()
	e := newEngine(t, rec, c)

	tip, err := e.RegisterTipster(ctx, model.TipsterDraft{Name: "Steady"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		outcome := model.OutcomeWon
		if i%2 == 1 {
			outcome = model.OutcomeLost
		}
		if _, err := e.RecordBet(ctx, c.draft("Bundesliga", 20, outcome, &tip.ID), "user-1"); err != nil {
			t.Fatal(err)
		}
	}
	c.advance(48 * time.Hour)
	closed, err := e.CloseElapsed(ctx)
	if err != nil || closed == 0 {
		t.Fatalf("closed = %d, err = %v", closed, err)
	}
	before := e.ExportPerformanceRange(model.PeriodAllTime, "", "")

	restarted := newEngine(t, rec, c)
	after := restarted.ExportPerformanceRange(model.PeriodAllTime, "", "")
	if len(before) != 1 || len(after) != 1 || after[0].Tips != before[0].Tips || !after[0].Profit.Equal(before[0].Profit) {
		t.Errorf("all-time after restart = %+v, want %+v", after, before)
	}
	daily := restarted.ExportPerformanceRange(model.PeriodDaily, "2024-04-15", "2024-04-16")
	if len(daily) != 1 || !daily[0].Closed || daily[0].Tips != 4 {
		t.Errorf("closed daily snapshot after restart = %+v", daily)
	}

	if _, err := restarted.Rebuild(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	rebuilt := restarted.ExportPerformanceRange(model.PeriodAllTime, "", "")
	if len(rebuilt) != 1 || rebuilt[0].Tips != 4 || rebuilt[0].ROI != before[0].ROI {
		t.Errorf("rebuilt all-time = %+v", rebuilt)
	}
}

func TestEngine_RebuildDuringSettlements(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: t0}
	e := newEngine(t, recorder.NewMemoryRecorder(), c)

	tip, err := e.RegisterTipster(ctx, model.TipsterDraft{Name: "Busy"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	const n = 60
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		b, err := e.RecordBet(ctx, c.draft("Ligue 1", 10, "", &tip.ID), "user-1")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, b.ID)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			if _, err := e.SettleBet(ctx, id, model.OutcomeLost, nil, "user-1"); err != nil {
				t.Error(err)
			}
		}
	}()
	for i := 0; i < 20; i++ {
		if _, err := e.Rebuild(ctx, "user-1"); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	snap, err := e.GetSnapshot(tip.ID, model.PeriodAllTime, "")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Tips != n || !snap.Profit.Equal(decimal.NewFromInt(-10*n)) {
		t.Errorf("all-time after concurrent rebuilds = %d tips, profit %s; want %d, %d", snap.Tips, snap.Profit, n, -10*n)
	}
}

func TestEngine_Backtest(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: t0}
	e := newEngine(t, recorder.NewMemoryRecorder(), c)
	if _, err := e.RecordBet(ctx, c.draft("A", 25, model.OutcomeWon, nil), "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RecordBet(ctx, c.draft("A", 25, model.OutcomeLost, nil), "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RecordBet(ctx, c.draft("A", 25, "", nil), "user-1"); err != nil {
		t.Fatal(err)
	}
	balance := e.Balance()

	res := <-e.Backtest(ctx, BacktestRequest{Strategy: backtest.Flat{Stake: decimal.NewFromInt(10)}})
	if res.Status != backtest.StatusCompleted || len(res.Steps) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if !res.Final.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("final = %s, want 1000", res.Final)
	}
	if !e.Balance().Equal(balance) {
		t.Error("backtest changed the ledger")
	}

	ten := decimal.NewFromInt(10)
	ranked := e.CompareBacktests(ctx, BacktestRequest{}, []backtest.Strategy{
		backtest.Flat{Stake: ten},
		backtest.Martingale{Base: ten, MaxDoublings: 3},
	})
	if len(ranked) != 2 || ranked[0].Strategy != "flat 10" || !ranked[0].Final.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("ranked = %+v", ranked)
	}
}

type collectingSink struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (s *collectingSink) Name() string { return "collect" }

func (s *collectingSink) Publish(_ context.Context, e ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *collectingSink) Close() error { return nil }

func TestEngine_Sinks(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: t0}
	e := newEngine(t, recorder.NewMemoryRecorder(), c)
	col := &collectingSink{}
	e.StartSinks(ctx, 64, col)

	b, err := e.RecordBet(ctx, c.draft("A", 40, "", nil), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RecordBet(ctx, c.draft("B", 10, "", nil), "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RecordBet(ctx, c.draft("A", 50, "", nil), "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SettleBet(ctx, b.ID, model.OutcomeLost, nil, "user-1"); err != nil {
		t.Fatal(err)
	}
	alerts := e.ListActiveAlerts()
	if len(alerts) == 0 {
		t.Fatal("expected a concentration alert")
	}
	if _, err := e.ResolveAlert(ctx, alerts[0].ID, "user-1"); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	kinds := make([]ledger.EventKind, len(col.events))
	for i, ev := range col.events {
		kinds[i] = ev.Kind
	}
	want := []ledger.EventKind{
		ledger.EventBetRecorded, ledger.EventBetRecorded, ledger.EventBetRecorded,
		ledger.EventBetSettled, sink.EventAlertsChanged,
	}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}
