package performance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"BetSentinel/internal/model"
	"BetSentinel/internal/recorder"
)

var day = time.Date(2024, 4, 15, 20, 0, 0, 0, time.UTC)

func settled(id, tipster int64, at time.Time, odds float64, stake int64, outcome model.Outcome) model.Bet {
	s := decimal.NewFromInt(stake)
	pl, err := model.RealizedPL(outcome, odds, s, nil)
	if err != nil {
		panic(err)
	}
	return model.Bet{
		ID:         id,
		Timestamp:  at.Add(-2 * time.Hour),
		Odds:       odds,
		Stake:      s,
		Outcome:    outcome,
		ProfitLoss: pl,
		TipsterID:  &tipster,
		SettledAt:  &at,
	}
}

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestApply_UpdatesAllPeriods(t *testing.T) {
	agg := New(DefaultConfig(), nil, fixed(day))
	agg.Apply(settled(1, 7, day, 2.0, 10, model.OutcomeWon))
	agg.Apply(settled(2, 7, day, 3.0, 20, model.OutcomeLost))

	for _, p := range []struct {
		period model.Period
		key    string
	}{
		{model.PeriodDaily, "2024-04-15"},
		{model.PeriodMonthly, "2024-04"},
		{model.PeriodAllTime, "all"},
	} {
		s, ok := agg.Snapshot(7, p.period, p.key)
		if !ok {
			t.Fatalf("%s snapshot missing", p.period)
		}
		if s.Tips != 2 || s.Wins != 1 || s.Losses != 1 {
			t.Errorf("%s counts = %+v", p.period, s)
		}
		if s.WinRate != 0.5 {
			t.Errorf("%s win rate = %v", p.period, s.WinRate)
		}
		// profit 10 - 20 = -10 over stake 30
		if !s.Profit.Equal(decimal.NewFromInt(-10)) || fmt.Sprintf("%.4f", s.ROI) != "-0.3333" {
			t.Errorf("%s profit = %s roi = %v", p.period, s.Profit, s.ROI)
		}
		if s.AvgOdds != 2.5 || !s.MaxDrawdown.Equal(decimal.NewFromInt(20)) || s.MaxLossStreak != 1 {
			t.Errorf("%s extras = %+v", p.period, s)
		}
		if !s.GrossWon.Equal(decimal.NewFromInt(10)) || !s.GrossLost.Equal(decimal.NewFromInt(20)) || s.ProfitFactor != 0.5 {
			t.Errorf("%s profit factor = %v (won %s, lost %s)", p.period, s.ProfitFactor, s.GrossWon, s.GrossLost)
		}
	}
}

func TestApply_SkipsAlreadyCounted(t *testing.T) {
	agg := New(DefaultConfig(), nil, fixed(day))
	b := settled(1, 7, day, 2.0, 10, model.OutcomeWon)
	if !agg.Apply(b) {
		t.Fatal("first apply should count")
	}
	before, _ := agg.Snapshot(7, model.PeriodAllTime, "all")
	if agg.Apply(b) {
		t.Error("replayed bet was counted again")
	}
	after, _ := agg.Snapshot(7, model.PeriodAllTime, "all")
	if before.Tips != after.Tips || !before.Profit.Equal(after.Profit) {
		t.Errorf("snapshot changed on replay: %+v -> %+v", before, after)
	}
}

func TestApply_IgnoresUnqualifiedBets(t *testing.T) {
	agg := New(DefaultConfig(), nil, fixed(day))
	self := settled(1, 7, day, 2.0, 10, model.OutcomeWon)
	self.TipsterID = nil
	pending := model.Bet{ID: 2, Odds: 2, Stake: decimal.NewFromInt(5), Outcome: model.OutcomePending, TipsterID: self.TipsterID}
	if agg.Apply(self) || agg.Apply(pending) {
		t.Error("self-authored or pending bets must not be counted")
	}
	if !agg.Apply(settled(3, 7, day, 2.0, 10, model.OutcomeVoid)) {
		t.Error("void bet should be marked counted")
	}
	if _, ok := agg.Snapshot(7, model.PeriodAllTime, "all"); ok {
		t.Error("void bet should not create statistics")
	}
}

func TestSnapshot_NoStakeMeansZeroROI(t *testing.T) {
	agg := New(DefaultConfig(), nil, fixed(day))
	s, ok := agg.Snapshot(3, model.PeriodAllTime, "")
	if ok || s.ROI != 0 || s.Tips != 0 || s.PeriodKey != "all" {
		t.Errorf("empty snapshot = %+v ok=%v", s, ok)
	}
}

// Incrementally maintained snapshots must match a rebuild from full history.
func TestRebuild_MatchesIncremental(t *testing.T) {
	var bets []model.Bet
	outcomes := []model.Outcome{model.OutcomeWon, model.OutcomeLost, model.OutcomeLost, model.OutcomeWon, model.OutcomeVoid}
	for i := int64(1); i <= 40; i++ {
		at := day.Add(time.Duration(i) * 7 * time.Hour)
		bets = append(bets, settled(i, 1+i%3, at, 1.5+float64(i%4)*0.25, 5+i%6, outcomes[i%int64(len(outcomes))]))
	}

	incremental := New(DefaultConfig(), nil, fixed(day))
	for _, b := range bets {
		incremental.Apply(b)
	}
	rebuilt := New(DefaultConfig(), nil, fixed(day))
	reversed := make([]model.Bet, len(bets))
	for i, b := range bets {
		reversed[len(bets)-1-i] = b
	}
	rebuilt.Rebuild(reversed)

	for tip := int64(1); tip <= 3; tip++ {
		for _, s := range incremental.Snapshots(tip) {
			r, ok := rebuilt.Snapshot(tip, s.Period, s.PeriodKey)
			if !ok {
				t.Fatalf("tipster %d %s/%s missing after rebuild", tip, s.Period, s.PeriodKey)
			}
			if r.WinRate != s.WinRate || r.ROI != s.ROI || r.Tips != s.Tips || !r.Profit.Equal(s.Profit) {
				t.Errorf("tipster %d %s/%s: incremental %+v rebuilt %+v", tip, s.Period, s.PeriodKey, s, r)
			}
			if !r.MaxDrawdown.Equal(s.MaxDrawdown) || r.MaxLossStreak != s.MaxLossStreak {
				t.Errorf("tipster %d %s/%s: path statistics differ", tip, s.Period, s.PeriodKey)
			}
		}
	}
}

func TestCloseElapsed(t *testing.T) {
	rec := recorder.NewMemoryRecorder()
	ctx := context.Background()
	agg := New(DefaultConfig(), rec, fixed(day))
	agg.Apply(settled(1, 7, day, 2.0, 10, model.OutcomeWon))

	n, err := agg.CloseElapsed(ctx, day.Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("same day should close nothing: n=%d err=%v", n, err)
	}
	n, err = agg.CloseElapsed(ctx, day.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("next day should close the daily snapshot: n=%d err=%v", n, err)
	}

	// A late bet keyed into the closed day must not change it.
	agg.Apply(settled(2, 7, day, 2.0, 50, model.OutcomeLost))
	daily, _ := agg.Snapshot(7, model.PeriodDaily, "2024-04-15")
	if !daily.Closed || daily.Tips != 1 {
		t.Errorf("closed snapshot mutated: %+v", daily)
	}
	monthly, _ := agg.Snapshot(7, model.PeriodMonthly, "2024-04")
	if monthly.Tips != 2 {
		t.Errorf("open monthly snapshot should keep counting, tips = %d", monthly.Tips)
	}

	reloaded := New(DefaultConfig(), rec, fixed(day))
	if err := reloaded.Load(ctx); err != nil {
		t.Fatal(err)
	}
	reloaded.Rebuild([]model.Bet{settled(1, 7, day, 2.0, 10, model.OutcomeWon), settled(2, 7, day, 2.0, 50, model.OutcomeLost)})
	daily, _ = reloaded.Snapshot(7, model.PeriodDaily, "2024-04-15")
	if !daily.Closed || daily.Tips != 1 {
		t.Errorf("closed snapshot not restored as persisted: %+v", daily)
	}
}

func TestTier(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		tips int
		roi  float64
		want model.Tier
	}{
		{0, 0, model.TierNew},
		{9, 0.5, model.TierNew},
		{10, 0.5, model.TierDeveloping},
		{29, 0.5, model.TierDeveloping},
		{30, 0.01, model.TierReliable},
		{30, 0, model.TierDeveloping},
		{99, 0.5, model.TierReliable},
		{100, 0.10, model.TierReliable},
		{100, 0.11, model.TierElite},
		{150, -0.02, model.TierDeveloping},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d tips roi %.2f", tt.tips, tt.roi), func(t *testing.T) {
			got := cfg.Tier(model.PerformanceSnapshot{Tips: tt.tips, ROI: tt.roi})
			if got != tt.want {
				t.Errorf("tier = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTier_Downgrades(t *testing.T) {
	agg := New(DefaultConfig(), nil, fixed(day))
	id := int64(0)
	next := func(outcome model.Outcome, stake int64) {
		id++
		agg.Apply(settled(id, 5, day.Add(time.Duration(id)*time.Minute), 2.0, stake, outcome))
	}
	for i := 0; i < 20; i++ {
		next(model.OutcomeWon, 10)
		next(model.OutcomeLost, 10)
	}
	next(model.OutcomeWon, 10)
	if tier, _, _ := agg.Standing(5); tier != model.TierReliable {
		t.Fatalf("tier = %s, want Reliable", tier)
	}
	next(model.OutcomeLost, 100)
	if tier, roi, _ := agg.Standing(5); tier != model.TierDeveloping || roi >= 0 {
		t.Errorf("after a heavy loss tier = %s roi = %v, want Developing", tier, roi)
	}
}

func TestRatingAndRanking(t *testing.T) {
	agg := New(DefaultConfig(), nil, fixed(day))
	id := int64(0)
	for i := 0; i < 12; i++ {
		id++
		agg.Apply(settled(id, 1, day, 2.0, 10, model.OutcomeWon))
		id++
		outcome := model.OutcomeLost
		if i%3 == 0 {
			outcome = model.OutcomeWon
		}
		agg.Apply(settled(id, 2, day, 2.0, 10, outcome))
	}
	id++
	agg.Apply(settled(id, 3, day, 2.0, 10, model.OutcomeWon))

	ranks := agg.Ranking(10)
	if len(ranks) != 2 {
		t.Fatalf("ranking = %d rows, want 2 (min tips filter)", len(ranks))
	}
	if ranks[0].TipsterID != 1 || ranks[0].Rating <= ranks[1].Rating {
		t.Errorf("unexpected order: %+v", ranks)
	}
	if ranks[0].Rating > 100 || ranks[1].Rating < 0 {
		t.Errorf("rating out of range: %v %v", ranks[0].Rating, ranks[1].Rating)
	}

	enriched := agg.Enrich(model.Tipster{ID: 1, Name: "Ace"})
	if enriched.Tier != model.TierDeveloping || enriched.Rating != ranks[0].Rating {
		t.Errorf("enriched = %+v", enriched)
	}
}

func TestExportRange(t *testing.T) {
	agg := New(DefaultConfig(), nil, fixed(day))
	for i := int64(0); i < 5; i++ {
		agg.Apply(settled(i+1, 1, day.AddDate(0, 0, int(i)), 2.0, 10, model.OutcomeWon))
	}
	got := agg.ExportRange(model.PeriodDaily, "2024-04-16", "2024-04-19")
	if len(got) != 3 || got[0].PeriodKey != "2024-04-16" || got[2].PeriodKey != "2024-04-18" {
		t.Errorf("export = %+v", got)
	}
}
