// Command backtest replays the settled bets of a ledger under a staking
// strategy, or several for comparison, and prints the outcome. It only reads
// an existing ledger.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"BetSentinel/internal/backtest"
	"BetSentinel/internal/config"
	"BetSentinel/internal/ledger"
	"BetSentinel/internal/logging"
	"BetSentinel/internal/model"
	"BetSentinel/internal/recorder"
)

func main() {
	var (
		cfgPath     = flag.String("config", "configs/config.yaml", "config file")
		dbPath      = flag.String("db", "", "sqlite ledger (default: database.sqlite_path)")
		name        = flag.String("strategy", "flat", "one of "+strings.Join(backtest.StrategyNames, ", "))
		stake       = flag.Float64("stake", 0, "stake for flat, martingale and random (default: backtest.flat_stake)")
		fraction    = flag.Float64("fraction", 0.02, "bankroll fraction for percentage, multiplier for kelly")
		kellyCap    = flag.Float64("cap", 0.05, "kelly stake cap as a bankroll fraction")
		doublings   = flag.Int("max-doublings", 5, "martingale doubling cap")
		maxSteps    = flag.Int("max-steps", backtest.DefaultFibonacciSteps, "fibonacci sequence cap")
		compare     = flag.String("compare", "", "comma-separated strategies to replay side by side; overrides -strategy")
		probability = flag.Float64("probability", 0.5, "random selection probability")
		seed        = flag.Int64("seed", -1, "seed for random selection; negative means unseeded")
		bankroll    = flag.Float64("bankroll", 0, "initial bankroll (default: backtest.initial_bankroll)")
		tipster     = flag.Int64("tipster", 0, "only bets of this tipster id")
		competition = flag.String("competition", "", "only bets of this competition")
		from        = flag.String("from", "", "first day, YYYY-MM-DD")
		to          = flag.String("to", "", "day after the last, YYYY-MM-DD")
		asJSON      = flag.Bool("json", false, "print the full result as JSON")
		trace       = flag.Bool("trace", false, "print every step")
	)
	flag.Parse()
	log := logging.For("backtest")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Init(cfg.LogLevel)
	if *dbPath == "" {
		*dbPath = cfg.Database.SQLitePath
	}
	if *stake == 0 {
		*stake = cfg.Backtest.FlatStake
	}
	if *bankroll == 0 {
		*bankroll = cfg.Backtest.InitialBankroll
	}

	params := backtest.Params{
		Stake:        decimal.NewFromFloat(*stake),
		Fraction:     *fraction,
		Cap:          *kellyCap,
		MaxDoublings: *doublings,
		MaxSteps:     *maxSteps,
		Probability:  *probability,
	}
	names := []string{*name}
	if *compare != "" {
		names = strings.Split(*compare, ",")
	}
	var strategies []backtest.Strategy
	for _, n := range names {
		s, err := backtest.ByName(strings.TrimSpace(n), params)
		if err != nil {
			log.Fatalf("strategy %q: %v", n, err)
		}
		strategies = append(strategies, s)
	}

	filter := ledger.Filter{Competition: *competition}
	if *tipster > 0 {
		filter.TipsterID = tipster
	}
	if filter.From, err = parseDay(*from); err != nil {
		log.Fatalf("-from: %v", err)
	}
	if filter.To, err = parseDay(*to); err != nil {
		log.Fatalf("-to: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("ledger %s: %v", *dbPath, err)
	}
	rec, err := recorder.NewSQLiteRecorder(*dbPath)
	if err != nil {
		log.Fatalf("open %s: %v", *dbPath, err)
	}
	defer rec.Close()
	state, err := rec.Load(ctx)
	if err != nil {
		log.Fatalf("load ledger: %v", err)
	}
	if state == nil || len(state.Movements) == 0 {
		log.Fatalf("%s holds no ledger", *dbPath)
	}
	l, err := ledger.Open(ctx, rec, ledger.Options{})
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}

	var bets []model.Bet
	for b := range l.ListBets(filter, ledger.Ascending) {
		bets = append(bets, b)
	}
	bcfg := backtest.Config{InitialBankroll: decimal.NewFromFloat(*bankroll)}
	if *seed >= 0 {
		s := uint64(*seed)
		bcfg.Seed = &s
	}
	candidates := backtest.CandidatesFromBets(bets)

	if *compare != "" {
		results := backtest.Compare(ctx, candidates, strategies, bcfg)
		if *asJSON {
			printJSON(results)
			return
		}
		printComparison(results)
		return
	}

	res := backtest.Run(ctx, candidates, strategies[0], bcfg)
	if *asJSON {
		printJSON(res)
		return
	}
	if *trace {
		printTrace(res.Steps)
	}
	printSummary(res)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logging.For("backtest").Fatalf("encode result: %v", err)
	}
}

func printComparison(results []backtest.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "rank\tstrategy\tstatus\tfinal\tgrowth\troi\tmax dd\tsharpe\tplaced")
	for i, res := range results {
		s := res.Summary
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%+.2f%%\t%.2f%%\t%.1f%%\t%.3f\t%d\n",
			i+1, res.Strategy, res.Status, res.Final.StringFixed(2), s.Growth*100, s.ROI*100, s.MaxDrawdownPct*100, s.Sharpe, s.Placed)
	}
	w.Flush()
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func printTrace(steps []backtest.Step) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "#\tbet\todds\toutcome\tstake\tp/l\tbankroll\t")
	for _, st := range steps {
		stake := st.Stake.StringFixed(2)
		switch {
		case st.Skipped:
			stake = "skip"
		case st.Clamped:
			stake += "*"
		}
		fmt.Fprintf(w, "%d\t%d\t%.2f\t%s\t%s\t%s\t%s\t\n",
			st.Index, st.BetID, st.Odds, st.Outcome, stake, st.PL.StringFixed(2), st.BankrollAfter.StringFixed(2))
	}
	w.Flush()
	fmt.Println()
}

func printSummary(res backtest.Result) {
	s := res.Summary
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "strategy\t%s\n", res.Strategy)
	fmt.Fprintf(w, "status\t%s\n", res.Status)
	fmt.Fprintf(w, "bankroll\t%s -> %s (%+.2f%%)\n", res.Initial.StringFixed(2), res.Final.StringFixed(2), s.Growth*100)
	fmt.Fprintf(w, "bets\t%d placed, %d skipped of %d\n", s.Placed, s.Skipped, s.Steps)
	fmt.Fprintf(w, "record\t%d won, %d lost (%.1f%%)\n", s.Wins, s.Losses, s.WinRate*100)
	fmt.Fprintf(w, "staked\t%s (avg %s, min %s, max %s)\n", s.Staked.StringFixed(2), s.AvgStake.StringFixed(2), s.MinStake.StringFixed(2), s.MaxStake.StringFixed(2))
	fmt.Fprintf(w, "profit\t%s (roi %.2f%%)\n", s.Profit.StringFixed(2), s.ROI*100)
	fmt.Fprintf(w, "max drawdown\t%s (%.1f%%)\n", s.MaxDrawdown.StringFixed(2), s.MaxDrawdownPct*100)
	fmt.Fprintf(w, "sharpe\t%.3f\n", s.Sharpe)
	fmt.Fprintf(w, "longest losing run\t%d\n", s.LongestLosing)
	w.Flush()
}
