package stats

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMeanStdDev(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if m := Mean(xs); m != 5 {
		t.Errorf("mean = %v, want 5", m)
	}
	if sd := StdDev(xs); math.Abs(sd-2.138) > 0.001 {
		t.Errorf("stddev = %.4f, want ~2.138", sd)
	}
	if Mean(nil) != 0 || StdDev([]float64{1}) != 0 {
		t.Error("degenerate inputs should yield 0")
	}
}

func TestSharpe_FlatSeries(t *testing.T) {
	if s := Sharpe([]float64{0.1, 0.1, 0.1}); s != 0 {
		t.Errorf("sharpe of flat series = %v, want 0", s)
	}
	if s := Sharpe([]float64{1, -1, 1, -1, 2}); s <= 0 {
		t.Errorf("positive mean should give positive sharpe, got %v", s)
	}
}

func TestSMA(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		period  int
		want    float64
		wantErr bool
	}{
		{"last three", []float64{1, 2, 3, 4, 5}, 3, 4, false},
		{"whole series", []float64{2, 4}, 2, 3, false},
		{"too short", []float64{1}, 2, 0, true},
		{"bad period", []float64{1, 2}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SMA(tt.values, tt.period)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SMA = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRatioAndClamp(t *testing.T) {
	if r := Ratio(decimal.NewFromInt(5), decimal.Zero); r != 0 {
		t.Errorf("ratio over zero = %v, want 0", r)
	}
	if r := Ratio(decimal.NewFromInt(1), decimal.NewFromInt(4)); r != 0.25 {
		t.Errorf("ratio = %v, want 0.25", r)
	}
	for in, want := range map[float64]float64{-0.5: 0, 0.4: 0.4, 3: 1} {
		if got := Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestDrawdown(t *testing.T) {
	d := NewDrawdown(decimal.NewFromInt(100))
	for _, delta := range []int64{20, -50, 10, -30, 80} {
		d.Add(decimal.NewFromInt(delta))
	}
	// 100 -> 120 -> 70 -> 80 -> 50 -> 130
	if !d.Max().Equal(decimal.NewFromInt(70)) {
		t.Errorf("max drawdown = %s, want 70", d.Max())
	}
	if !d.Peak().Equal(decimal.NewFromInt(130)) || !d.Current().IsZero() {
		t.Errorf("peak = %s current = %s", d.Peak(), d.Current())
	}
}

func TestMaxDrawdownPct(t *testing.T) {
	levels := []decimal.Decimal{
		decimal.NewFromInt(100), decimal.NewFromInt(200), decimal.NewFromInt(150), decimal.NewFromInt(250),
	}
	if got := MaxDrawdownPct(levels); got != 0.25 {
		t.Errorf("max drawdown pct = %v, want 0.25", got)
	}
}

func TestStreak(t *testing.T) {
	var s Streak
	for _, loss := range []bool{true, true, false, true, true, true, false} {
		if loss {
			s.Hit()
		} else {
			s.Break()
		}
	}
	if s.Longest != 3 || s.Current != 0 {
		t.Errorf("streak = %+v, want longest 3 current 0", s)
	}
}
