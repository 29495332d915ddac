package recorder

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"BetSentinel/internal/ledger"
	"BetSentinel/internal/model"
)

// MemoryRecorder keeps everything in process memory. It is used when no
// SQLite path is configured and by tests; state is lost on exit.
type MemoryRecorder struct {
	mu        sync.Mutex
	tipsters  []model.Tipster
	bets      map[int64]model.Bet
	movements []model.Movement
	snapshots map[string]model.PerformanceSnapshot
	alerts    map[string]model.RiskAlert
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		bets:      make(map[int64]model.Bet),
		snapshots: make(map[string]model.PerformanceSnapshot),
		alerts:    make(map[string]model.RiskAlert),
	}
}

func (m *MemoryRecorder) Load(_ context.Context) (*ledger.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &ledger.State{
		Tipsters:  append([]model.Tipster(nil), m.tipsters...),
		Movements: append([]model.Movement(nil), m.movements...),
	}
	for _, b := range m.bets {
		st.Bets = append(st.Bets, b)
	}
	sort.Slice(st.Bets, func(i, j int) bool { return st.Bets[i].ID < st.Bets[j].ID })
	return st, nil
}

func (m *MemoryRecorder) InsertTipster(_ context.Context, t model.Tipster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tipsters = append(m.tipsters, t)
	return nil
}

func (m *MemoryRecorder) InsertBet(_ context.Context, bet model.Bet, mv *model.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bets[bet.ID] = bet
	if mv != nil {
		m.movements = append(m.movements, *mv)
	}
	return nil
}

func (m *MemoryRecorder) SettleBet(_ context.Context, bet model.Bet, mv model.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bets[bet.ID] = bet
	m.movements = append(m.movements, mv)
	return nil
}

func (m *MemoryRecorder) InsertMovement(_ context.Context, mv model.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements = append(m.movements, mv)
	return nil
}

func (m *MemoryRecorder) RewriteBalances(_ context.Context, corrected []model.Movement, audit model.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements = append(append(make([]model.Movement, 0, len(corrected)+1), corrected...), audit)
	return nil
}

func (m *MemoryRecorder) SaveSnapshot(_ context.Context, snap model.PerformanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := snapshotKey(snap)
	if prev, ok := m.snapshots[key]; ok && prev.Closed {
		return nil
	}
	m.snapshots[key] = snap
	return nil
}

func (m *MemoryRecorder) LoadSnapshots(_ context.Context) ([]model.PerformanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PerformanceSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return snapshotKey(out[i]) < snapshotKey(out[j]) })
	return out, nil
}

func (m *MemoryRecorder) SaveAlert(_ context.Context, a model.RiskAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = a
	return nil
}

func (m *MemoryRecorder) LoadAlerts(_ context.Context) ([]model.RiskAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RiskAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out, nil
}

func (m *MemoryRecorder) Close() error { return nil }

func snapshotKey(s model.PerformanceSnapshot) string {
	return fmt.Sprintf("%d|%s|%s", s.TipsterID, s.Period, s.PeriodKey)
}
