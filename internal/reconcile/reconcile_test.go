package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"BetSentinel/internal/ledger"
	"BetSentinel/internal/model"
	"BetSentinel/internal/recorder"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// logOf builds a movement log from deltas with correct balances.
func logOf(deltas ...int64) []model.Movement {
	var out []model.Movement
	bal := decimal.Zero
	for i, d := range deltas {
		delta := decimal.NewFromInt(d)
		bal = bal.Add(delta)
		out = append(out, model.Movement{Seq: int64(i), Date: t0, Delta: delta, Balance: bal})
	}
	return out
}

// openWith loads a ledger over a store seeded with the given movements.
func openWith(t *testing.T, mvs []model.Movement) *ledger.Ledger {
	t.Helper()
	rec := recorder.NewMemoryRecorder()
	ctx := context.Background()
	for _, m := range mvs {
		if err := rec.InsertMovement(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	l, err := ledger.Open(ctx, rec, ledger.Options{InitialBankroll: decimal.NewFromInt(1000), Clock: func() time.Time { return t0 }})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func([]model.Movement)
		wantDrift bool
		wantFirst int64
		wantDelta string
		wantFinal string
	}{
		{"consistent", func([]model.Movement) {}, false, 0, "0", "0"},
		{"single bad balance", func(m []model.Movement) { m[2].Balance = m[2].Balance.Add(decimal.NewFromInt(5)) }, true, 2, "5", "0"},
		{"bad opening", func(m []model.Movement) { m[0].Balance = decimal.NewFromInt(900) }, true, 0, "-100", "0"},
		{"tail drift", func(m []model.Movement) { m[4].Balance = decimal.NewFromInt(1) }, true, 4, "-1064", "-1064"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mvs := logOf(1000, 50, -20, 40, -5)
			tt.mutate(mvs)
			rep := verify(mvs, 0)
			if rep.Drifted() != tt.wantDrift {
				t.Fatalf("drifted = %v, want %v (%s)", rep.Drifted(), tt.wantDrift, rep)
			}
			if rep.Checked != 5 {
				t.Errorf("checked = %d, want 5", rep.Checked)
			}
			if !tt.wantDrift {
				return
			}
			if *rep.FirstDivergent != tt.wantFirst {
				t.Errorf("first divergent = %d, want %d", *rep.FirstDivergent, tt.wantFirst)
			}
			if !rep.Drift.Equal(decimal.RequireFromString(tt.wantDelta)) {
				t.Errorf("drift = %s, want %s", rep.Drift, tt.wantDelta)
			}
			if !rep.FinalDrift.Equal(decimal.RequireFromString(tt.wantFinal)) {
				t.Errorf("final drift = %s, want %s", rep.FinalDrift, tt.wantFinal)
			}
		})
	}
}

// Drift is reported iff some stored balance differs from previous balance plus delta.
func TestVerify_NoDriftIffInvariantHolds(t *testing.T) {
	deltas := []int64{500, 10, -10, 25, -300, 7}
	for pos := 0; pos < len(deltas); pos++ {
		mvs := logOf(deltas...)
		if rep := verify(mvs, 0); rep.Drifted() {
			t.Fatalf("clean log reported drift: %s", rep)
		}
		mvs[pos].Balance = mvs[pos].Balance.Add(decimal.RequireFromString("0.01"))
		rep := verify(mvs, 0)
		if !rep.Drifted() || *rep.FirstDivergent != int64(pos) {
			t.Errorf("tamper at %d: report %s", pos, rep)
		}
	}
}

func TestVerify_FromSeqAnchorsOnPreviousBalance(t *testing.T) {
	mvs := logOf(1000, 50, -20, 40)
	mvs[1].Balance = decimal.NewFromInt(2000) // outside the checked range
	mvs[2].Balance = decimal.NewFromInt(1980)
	mvs[3].Balance = decimal.NewFromInt(2020)
	l := openWith(t, mvs)

	from := int64(2)
	rep := New(l).Verify(&from)
	if rep.Drifted() {
		t.Errorf("range after anchor is consistent, got %s", rep)
	}
	if rep.Checked != 2 {
		t.Errorf("checked = %d, want 2", rep.Checked)
	}
	if full := New(l).Verify(nil); !full.Drifted() || *full.FirstDivergent != 1 {
		t.Errorf("full verify should find seq 1, got %s", full)
	}
}

func TestRebuild_Idempotent(t *testing.T) {
	mvs := logOf(1000, 50, -20)
	mvs[1].Balance = decimal.NewFromInt(7)
	once := rebuild(mvs)
	twice := rebuild(once)
	for i := range once {
		if !once[i].Balance.Equal(twice[i].Balance) {
			t.Errorf("seq %d: %s then %s", i, once[i].Balance, twice[i].Balance)
		}
	}
	if !once[2].Balance.Equal(decimal.NewFromInt(1030)) {
		t.Errorf("rebuilt final balance = %s, want 1030", once[2].Balance)
	}
	if mvs[1].Balance.Equal(once[1].Balance) {
		t.Error("rebuild must not modify its input")
	}
}

func TestRepair(t *testing.T) {
	mvs := logOf(1000, 50, -20)
	mvs[2].Balance = decimal.NewFromInt(999)
	l := openWith(t, mvs)
	r := New(l)
	ctx := context.Background()

	rep, audit, err := r.Repair(ctx, "auditor")
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Drifted() || audit == nil {
		t.Fatalf("expected a repair, got %s / %v", rep, audit)
	}
	if !audit.AutoGenerated || !audit.Delta.IsZero() || audit.Actor != "auditor" {
		t.Errorf("unexpected audit movement: %+v", audit)
	}
	if !l.Balance().Equal(decimal.NewFromInt(1030)) {
		t.Errorf("balance after repair = %s, want 1030", l.Balance())
	}
	if after := r.Verify(nil); after.Drifted() {
		t.Errorf("still drifted after repair: %s", after)
	}

	n := len(l.Movements())
	rep, audit, err = r.Repair(ctx, "auditor")
	if err != nil || rep.Drifted() || audit != nil {
		t.Errorf("second repair should be a no-op: %s %v %v", rep, audit, err)
	}
	if len(l.Movements()) != n {
		t.Error("no-op repair appended a movement")
	}
}
