package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"BetSentinel/internal/bankroll"
	"BetSentinel/internal/model"
	"BetSentinel/internal/reconcile"
)

var severityIcon = map[model.Severity]string{
	model.SeverityLow:      "🟢",
	model.SeverityMedium:   "🟡",
	model.SeverityHigh:     "🟠",
	model.SeverityCritical: "🔴",
}

// FormatAlert formats a single risk alert.
func FormatAlert(a model.RiskAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b> | %s\n\n", severityIcon[a.Severity], html.EscapeString(a.Title), strings.ToUpper(string(a.Severity)))
	fmt.Fprintf(&b, "%s\n", html.EscapeString(a.Description))
	if a.Value != nil {
		fmt.Fprintf(&b, "Value: %s\n", a.Value.StringFixed(2))
	}
	fmt.Fprintf(&b, "Score: %.2f\n", a.Score)
	if a.Recommendation != "" {
		fmt.Fprintf(&b, "\n💡 %s\n", html.EscapeString(a.Recommendation))
	}
	fmt.Fprintf(&b, "\n<code>/resolve %s</code>", a.ID)
	return b.String()
}

// FormatAlerts lists active alerts, one line each.
func FormatAlerts(alerts []model.RiskAlert) string {
	if len(alerts) == 0 {
		return "✅ No active risk alerts"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 <b>Active alerts</b> (%d)\n\n", len(alerts))
	for _, a := range alerts {
		fmt.Fprintf(&b, "%s %s: %s\n   <code>%s</code>\n",
			severityIcon[a.Severity], a.Type, html.EscapeString(a.Subject), a.ID)
	}
	return b.String()
}

// FormatStatus formats the bankroll status.
func FormatStatus(st bankroll.Status) string {
	var b strings.Builder
	b.WriteString("📦 <b>Bankroll</b>\n\n")
	fmt.Fprintf(&b, "Balance: %s (initial %s)\n", st.Balance.StringFixed(2), st.Initial.StringFixed(2))
	fmt.Fprintf(&b, "Settled P/L: %s\n", signed(st.SettledPL.StringFixed(2)))
	fmt.Fprintf(&b, "Deposits: %s | Withdrawals: %s\n", st.Deposits.StringFixed(2), st.Withdrawals.StringFixed(2))
	fmt.Fprintf(&b, "Peak: %s | Drawdown: %s\n", st.Peak.StringFixed(2), st.Drawdown.StringFixed(2))
	fmt.Fprintf(&b, "Max drawdown: %s (%.1f%%)\n", st.MaxDrawdown.StringFixed(2), st.MaxDrawdownPct*100)
	fmt.Fprintf(&b, "Pending: %d bets, %s exposed\n", st.PendingBets, st.PendingExposure.StringFixed(2))
	fmt.Fprintf(&b, "Movements: %d (seq %d)\n", st.Movements, st.AsOfSeq)
	return b.String()
}

// FormatReport formats a reconciliation report.
func FormatReport(r reconcile.Report) string {
	if !r.Drifted() {
		return fmt.Sprintf("✅ <b>Bankroll consistent</b>\n\n%d movements checked from seq %d", r.Checked, r.FromSeq)
	}
	var b strings.Builder
	b.WriteString("⚠️ <b>Bankroll drift detected</b>\n\n")
	fmt.Fprintf(&b, "First divergent seq: %d\n", *r.FirstDivergent)
	fmt.Fprintf(&b, "Stored: %s | Expected: %s\n", r.Stored.StringFixed(2), r.Expected.StringFixed(2))
	fmt.Fprintf(&b, "Divergent movements: %d of %d\n", r.Divergent, r.Checked)
	fmt.Fprintf(&b, "Final drift: %s\n", signed(r.FinalDrift.StringFixed(2)))
	b.WriteString("\nBalances were not changed. Send /repair to rewrite them from deltas.")
	return b.String()
}

// FormatTipsters lists tipsters by rating.
func FormatTipsters(ts []model.Tipster) string {
	if len(ts) == 0 {
		return "No tipsters registered"
	}
	sorted := append([]model.Tipster(nil), ts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rating > sorted[j].Rating })

	var b strings.Builder
	b.WriteString("🏆 <b>Tipsters</b>\n\n")
	for i, t := range sorted {
		fmt.Fprintf(&b, "%d. %s | %s | %.0f/100\n", i+1, html.EscapeString(t.Name), t.Tier, t.Rating)
	}
	return b.String()
}

// FormatDailySummary is the end-of-day digest.
func FormatDailySummary(now time.Time, st bankroll.Status, alerts []model.RiskAlert, closed int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>Daily summary</b> | %s\n\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "Balance: %s (%s vs initial)\n", st.Balance.StringFixed(2), signed(st.Balance.Sub(st.Initial).StringFixed(2)))
	fmt.Fprintf(&b, "Pending: %d bets, %s exposed\n", st.PendingBets, st.PendingExposure.StringFixed(2))
	fmt.Fprintf(&b, "Active alerts: %d\n", len(alerts))
	if closed > 0 {
		fmt.Fprintf(&b, "Closed performance periods: %d\n", closed)
	}
	return b.String()
}

func signed(s string) string {
	if strings.HasPrefix(s, "-") {
		return s
	}
	return "+" + s
}
