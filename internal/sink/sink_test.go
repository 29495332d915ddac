package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"BetSentinel/internal/bankroll"
	"BetSentinel/internal/ledger"
	"BetSentinel/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	events []ledger.Event
	fail   bool
	closed bool
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Publish(_ context.Context, e ledger.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.fail {
		return errors.New("unavailable")
	}
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestAsync_DeliversInOrder(t *testing.T) {
	good, bad := &recordingSink{}, &recordingSink{fail: true}
	a := NewAsync(16, time.Second, bad, good)
	a.Start(context.Background())
	for v := uint64(1); v <= 5; v++ {
		a.OnEvent(ledger.Event{Kind: ledger.EventBetRecorded, Version: v})
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	if len(good.events) != 5 || len(bad.events) != 5 {
		t.Fatalf("delivered %d/%d events, want 5 each", len(good.events), len(bad.events))
	}
	for i, e := range good.events {
		if e.Version != uint64(i+1) {
			t.Errorf("event %d has version %d", i, e.Version)
		}
	}
	if !good.closed || !bad.closed {
		t.Error("sinks were not closed")
	}
}

func TestAsync_DropsWhenFull(t *testing.T) {
	rec := &recordingSink{}
	a := NewAsync(1, time.Second, rec)
	for v := uint64(1); v <= 3; v++ {
		a.OnEvent(ledger.Event{Kind: ledger.EventMovementAppended, Version: v})
	}
	if a.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", a.Dropped())
	}

	a.Start(context.Background())
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 1 || rec.events[0].Version != 1 {
		t.Errorf("events = %+v", rec.events)
	}
	a.OnEvent(ledger.Event{Version: 9}) // after close: ignored, no panic
	if err := a.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink_Message(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaSink{w: w}
	at := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	bet := model.Bet{ID: 7, Odds: 1.9, Stake: decimal.NewFromInt(10), Outcome: model.OutcomeLost}

	if err := k.Publish(context.Background(), ledger.Event{Kind: ledger.EventBetSettled, Version: 12, At: at, Bet: &bet}); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "bet_settled-12" || !m.Time.Equal(at) {
		t.Errorf("key = %s time = %s", m.Key, m.Time)
	}
	var got ledger.Event
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != ledger.EventBetSettled || got.Bet == nil || got.Bet.ID != 7 {
		t.Errorf("payload = %+v", got)
	}
}

type staticViews struct {
	status bankroll.Status
	alerts []model.RiskAlert
}

func (s staticViews) Status() bankroll.Status             { return s.status }
func (s staticViews) ListActiveAlerts() []model.RiskAlert { return s.alerts }

func TestCacheEntries(t *testing.T) {
	views := staticViews{status: bankroll.Status{Balance: decimal.NewFromInt(950), Version: 4}}

	tests := []struct {
		name string
		kind ledger.EventKind
		keys []string
	}{
		{"ledger event", ledger.EventBetSettled, []string{"bs:bankroll:status", "bs:alerts:active", "bs:ledger:version"}},
		{"alerts only", EventAlertsChanged, []string{"bs:bankroll:status", "bs:alerts:active"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := cacheEntries("bs", ledger.Event{Kind: tt.kind, Version: 4}, views)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != len(tt.keys) {
				t.Fatalf("entries = %d, want %d", len(entries), len(tt.keys))
			}
			for i, k := range tt.keys {
				if entries[i].key != k {
					t.Errorf("entry %d key = %s, want %s", i, entries[i].key, k)
				}
			}
			if string(entries[1].value) != "[]" {
				t.Errorf("no alerts should cache an empty list, got %s", entries[1].value)
			}
		})
	}
}
