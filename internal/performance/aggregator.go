// Package performance maintains per-tipster rollups by day, month and all time.
// Updates are incremental: each settled bet touches only its own period
// snapshots, and a bet id is never counted twice.
package performance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"BetSentinel/internal/ledger"
	"BetSentinel/internal/logging"
	"BetSentinel/internal/model"
	"BetSentinel/internal/stats"
)

// Store persists snapshots. Closed snapshots are written once and reloaded on
// start; open ones are rebuilt from the ledger.
type Store interface {
	SaveSnapshot(ctx context.Context, snap model.PerformanceSnapshot) error
	LoadSnapshots(ctx context.Context) ([]model.PerformanceSnapshot, error)
}

// PeriodKey returns the key of the period containing t.
func PeriodKey(p model.Period, t time.Time) string {
	switch p {
	case model.PeriodDaily:
		return t.UTC().Format("2006-01-02")
	case model.PeriodMonthly:
		return t.UTC().Format("2006-01")
	}
	return model.AllTimeKey
}

var periods = []model.Period{model.PeriodDaily, model.PeriodMonthly, model.PeriodAllTime}

type key struct {
	tipster int64
	period  model.Period
	pkey    string
}

type accumulator struct {
	snap    model.PerformanceSnapshot
	oddsSum float64
	profit  stats.Drawdown
	losses  stats.Streak
}

func (a *accumulator) add(b *model.Bet, at time.Time) {
	s := &a.snap
	s.Tips++
	switch {
	case b.IsWin():
		s.Wins++
		a.losses.Break()
	case b.IsLoss():
		s.Losses++
		a.losses.Hit()
	}
	s.TotalStake = s.TotalStake.Add(b.Stake)
	s.Profit = s.Profit.Add(b.ProfitLoss)
	switch {
	case b.ProfitLoss.IsPositive():
		s.GrossWon = s.GrossWon.Add(b.ProfitLoss)
	case b.ProfitLoss.IsNegative():
		s.GrossLost = s.GrossLost.Sub(b.ProfitLoss)
	}
	a.oddsSum += b.Odds
	a.profit.Add(b.ProfitLoss)

	s.WinRate = float64(s.Wins) / float64(s.Tips)
	s.ROI = stats.Ratio(s.Profit, s.TotalStake)
	s.AvgOdds = a.oddsSum / float64(s.Tips)
	s.MaxDrawdown = a.profit.Max()
	s.MaxLossStreak = a.losses.Longest
	s.ProfitFactor = stats.Ratio(s.GrossWon, s.GrossLost)
	s.UpdatedAt = at
}

// Aggregator owns the performance snapshots.
type Aggregator struct {
	mu      sync.RWMutex
	cfg     Config
	store   Store
	now     func() time.Time
	acc     map[key]*accumulator
	counted map[int64]struct{}
	log     *logrus.Entry
}

func New(cfg Config, store Store, clock func() time.Time) *Aggregator {
	if clock == nil {
		clock = time.Now
	}
	return &Aggregator{
		cfg:     cfg,
		store:   store,
		now:     clock,
		acc:     make(map[key]*accumulator),
		counted: make(map[int64]struct{}),
		log:     logging.For("performance"),
	}
}

// Load restores closed snapshots from the store.
func (a *Aggregator) Load(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	snaps, err := a.store.LoadSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range snaps {
		if !s.Closed {
			continue
		}
		a.acc[key{s.TipsterID, s.Period, s.PeriodKey}] = &accumulator{snap: s}
		n++
	}
	a.log.Infof("loaded %d closed snapshots", n)
	return nil
}

// OnEvent feeds settlement events into Apply.
func (a *Aggregator) OnEvent(e ledger.Event) {
	if e.Kind == ledger.EventBetSettled && e.Bet != nil {
		a.Apply(*e.Bet)
	}
}

// Apply counts a settled tipster bet into its daily, monthly and all-time
// snapshots, keyed by settlement time. It returns false when the bet does not
// qualify or was already counted. Void bets are marked counted but do not
// change any statistic.
func (a *Aggregator) Apply(b model.Bet) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apply(&b, true)
}

func (a *Aggregator) apply(b *model.Bet, warn bool) bool {
	if !b.Settled() || b.TipsterID == nil {
		return false
	}
	if _, dup := a.counted[b.ID]; dup {
		return false
	}
	a.counted[b.ID] = struct{}{}
	if b.Outcome == model.OutcomeVoid {
		return true
	}

	settled := b.Timestamp
	if b.SettledAt != nil {
		settled = *b.SettledAt
	}
	now := a.now()
	for _, p := range periods {
		k := key{*b.TipsterID, p, PeriodKey(p, settled)}
		acc, ok := a.acc[k]
		if !ok {
			acc = &accumulator{snap: model.PerformanceSnapshot{TipsterID: k.tipster, Period: p, PeriodKey: k.pkey}}
			a.acc[k] = acc
		}
		if acc.snap.Closed {
			if warn {
				a.log.Warnf("bet %d settles into closed %s period %s of tipster %d, left out", b.ID, p, k.pkey, k.tipster)
			}
			continue
		}
		acc.add(b, now)
	}
	return true
}

// Rebuild discards all open snapshots and recomputes them from bets, applying
// each tipster's bets in settlement order. Closed snapshots are kept as they are.
func (a *Aggregator) Rebuild(bets []model.Bet) {
	sorted := make([]model.Bet, 0, len(bets))
	for _, b := range bets {
		if b.Settled() && b.TipsterID != nil {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := settledAt(&sorted[i]), settledAt(&sorted[j])
		if ti.Equal(tj) {
			return sorted[i].ID < sorted[j].ID
		}
		return ti.Before(tj)
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	for k, acc := range a.acc {
		if !acc.snap.Closed {
			delete(a.acc, k)
		}
	}
	a.counted = make(map[int64]struct{}, len(sorted))
	for i := range sorted {
		a.apply(&sorted[i], false)
	}
	a.log.Infof("rebuilt performance from %d settled tipster bets", len(sorted))
}

func settledAt(b *model.Bet) time.Time {
	if b.SettledAt != nil {
		return *b.SettledAt
	}
	return b.Timestamp
}

// CloseElapsed closes and persists every open daily and monthly snapshot whose
// period ended before now. A snapshot stays open if it cannot be persisted.
func (a *Aggregator) CloseElapsed(ctx context.Context, now time.Time) (int, error) {
	today := PeriodKey(model.PeriodDaily, now)
	month := PeriodKey(model.PeriodMonthly, now)

	a.mu.Lock()
	defer a.mu.Unlock()

	closed := 0
	var firstErr error
	for _, k := range a.sortedKeys() {
		acc := a.acc[k]
		if acc.snap.Closed || k.period == model.PeriodAllTime {
			continue
		}
		if (k.period == model.PeriodDaily && k.pkey >= today) || (k.period == model.PeriodMonthly && k.pkey >= month) {
			continue
		}
		snap := acc.snap
		snap.Closed = true
		snap.UpdatedAt = now
		if a.store != nil {
			if err := a.store.SaveSnapshot(ctx, snap); err != nil {
				a.log.Errorf("persist closed snapshot %d/%s/%s: %v", k.tipster, k.period, k.pkey, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
		acc.snap = snap
		closed++
	}
	if closed > 0 {
		a.log.Infof("closed %d elapsed snapshots", closed)
	}
	return closed, firstErr
}

func (a *Aggregator) sortedKeys() []key {
	keys := make([]key, 0, len(a.acc))
	for k := range a.acc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tipster != keys[j].tipster {
			return keys[i].tipster < keys[j].tipster
		}
		if keys[i].period != keys[j].period {
			return keys[i].period < keys[j].period
		}
		return keys[i].pkey < keys[j].pkey
	})
	return keys
}

// Snapshot returns the last computed snapshot of a tipster for one period key.
// A tipster with no counted bets in that period gets an empty snapshot and false.
func (a *Aggregator) Snapshot(tipsterID int64, period model.Period, periodKey string) (model.PerformanceSnapshot, bool) {
	if period == model.PeriodAllTime {
		periodKey = model.AllTimeKey
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if acc, ok := a.acc[key{tipsterID, period, periodKey}]; ok {
		return acc.snap, true
	}
	return model.PerformanceSnapshot{
		TipsterID:   tipsterID,
		Period:      period,
		PeriodKey:   periodKey,
		TotalStake:  decimal.Zero,
		Profit:      decimal.Zero,
		MaxDrawdown: decimal.Zero,
	}, false
}

// Snapshots lists every snapshot of a tipster ordered by period and key.
func (a *Aggregator) Snapshots(tipsterID int64) []model.PerformanceSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []model.PerformanceSnapshot
	for _, k := range a.sortedKeys() {
		if k.tipster == tipsterID {
			out = append(out, a.acc[k].snap)
		}
	}
	return out
}

// Enrich fills the derived rating and tier of a tipster from its all-time snapshot.
func (a *Aggregator) Enrich(t model.Tipster) model.Tipster {
	s, _ := a.Snapshot(t.ID, model.PeriodAllTime, model.AllTimeKey)
	t.Tier = a.cfg.Tier(s)
	t.Rating = a.cfg.Rating(s)
	return t
}

// Standing reports the tier and all-time ROI of a tipster.
func (a *Aggregator) Standing(tipsterID int64) (model.Tier, float64, bool) {
	s, ok := a.Snapshot(tipsterID, model.PeriodAllTime, model.AllTimeKey)
	return a.cfg.Tier(s), s.ROI, ok
}

// Ranked is one row of the tipster leaderboard.
type Ranked struct {
	model.PerformanceSnapshot
	Tier   model.Tier `json:"tier"`
	Rating float64    `json:"rating"`
}

// Ranking orders tipsters with at least minTips all-time tips by rating, then
// ROI, then profit.
func (a *Aggregator) Ranking(minTips int) []Ranked {
	a.mu.RLock()
	var out []Ranked
	for k, acc := range a.acc {
		if k.period != model.PeriodAllTime || acc.snap.Tips < minTips {
			continue
		}
		out = append(out, Ranked{PerformanceSnapshot: acc.snap, Tier: a.cfg.Tier(acc.snap), Rating: a.cfg.Rating(acc.snap)})
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		if out[i].ROI != out[j].ROI {
			return out[i].ROI > out[j].ROI
		}
		if !out[i].Profit.Equal(out[j].Profit) {
			return out[i].Profit.GreaterThan(out[j].Profit)
		}
		return out[i].TipsterID < out[j].TipsterID
	})
	return out
}

// ExportRange copies the snapshots of one period granularity with keys in
// [fromKey, toKey). An empty toKey means no upper bound.
func (a *Aggregator) ExportRange(period model.Period, fromKey, toKey string) []model.PerformanceSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []model.PerformanceSnapshot
	for _, k := range a.sortedKeys() {
		if k.period != period || k.pkey < fromKey || (toKey != "" && k.pkey >= toKey) {
			continue
		}
		out = append(out, a.acc[k].snap)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PeriodKey < out[j].PeriodKey })
	return out
}
