package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"trendrider/config"
	"trendrider/models"
	"trendrider/risk"
	"trendrider/store"
)

// sideTotals is the PnL split of one trade direction.
type sideTotals struct {
	Trades int
	PnL    float64
}

// inWindow keeps the outcomes closed at or after since, oldest first.
func inWindow(outcomes []models.TradeOutcome, since time.Time) []models.TradeOutcome {
	out := make([]models.TradeOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if since.IsZero() || !o.ClosedAt.Before(since) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	return out
}

// bySide splits outcomes into long and short totals.
func bySide(outcomes []models.TradeOutcome) map[models.Direction]sideTotals {
	totals := make(map[models.Direction]sideTotals, 2)
	for _, o := range outcomes {
		t := totals[o.Side]
		t.Trades++
		t.PnL += o.PnL
		totals[o.Side] = t
	}
	return totals
}

// GrossPnL is the price move times quantity in the trade's favour.
func GrossPnL(side models.Direction, entry, exit, qty float64) float64 {
	if side == models.Short {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}

func writeTable(w io.Writer, market, window string, outcomes []models.TradeOutcome) {
	fmt.Fprintf(w, "Closed trades %s for %s\n", window, market)
	fmt.Fprintf(w, "%-17s %-5s %-10s %-10s %-10s %-10s %-8s\n", "Closed", "Side", "Qty", "Entry", "Exit", "PnL", "Reason")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%-17s %-5s %-10.4f %-10.2f %-10.2f %-10.4f %-8s\n",
			o.ClosedAt.In(time.Local).Format("2006-01-02 15:04"), o.Side, o.Quantity, o.EntryPrice, o.ExitPrice, o.PnL, o.Reason)
	}

	perf := risk.Summarize(outcomes)
	fmt.Fprintf(w, "\nTotal PnL: %.4f over %d trades (wins %d, losses %d, win rate %.1f%%)\n",
		perf.TotalPnL, perf.Trades, perf.Wins, perf.Losses, perf.WinRate*100)
	fmt.Fprintf(w, "Profit factor: %.2f  Max drawdown: %.4f\n", perf.ProfitFactor, perf.MaxDrawdown)
	sides := bySide(outcomes)
	for _, side := range []models.Direction{models.Long, models.Short} {
		if t, ok := sides[side]; ok {
			fmt.Fprintf(w, "%s: %d trades, PnL %.4f\n", side, t.Trades, t.PnL)
		}
	}
}

func writeCSV(w io.Writer, outcomes []models.TradeOutcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"closed_at", "position_id", "side", "qty", "entry", "exit", "gross", "pnl", "reason"}); err != nil {
		return err
	}
	f := func(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }
	for _, o := range outcomes {
		row := []string{
			o.ClosedAt.UTC().Format(time.RFC3339),
			o.PositionID,
			string(o.Side),
			f(o.Quantity, 4),
			f(o.EntryPrice, 2),
			f(o.ExitPrice, 2),
			f(GrossPnL(o.Side, o.EntryPrice, o.ExitPrice, o.Quantity), 4),
			f(o.PnL, 4),
			string(o.Reason),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	hours := flag.Int("hours", 24, "lookback window in hours (0 for all)")
	symbolFlag := flag.String("symbol", "", "market (defaults to config Symbol)")
	today := flag.Bool("today", false, "limit to current calendar day (local time); overrides -hours")
	limit := flag.Int("limit", 1000, "maximum trades to read from the store")
	outCSV := flag.String("out", "", "path to write CSV report (empty to disable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *symbolFlag != "" {
		cfg.Symbol = *symbolFlag
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		Driver:        cfg.StoreDriver,
		DSN:           cfg.StoreDSN,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   cfg.RedisPrefix,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	if st == nil {
		fmt.Fprintln(os.Stderr, "no trade store configured (set store_driver)")
		os.Exit(1)
	}
	defer st.Close()

	outcomes, err := st.ListOutcomes(ctx, cfg.Symbol, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list trades: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	var since time.Time
	window := "all time"
	switch {
	case *today:
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		window = "today"
	case *hours > 0:
		since = now.Add(-time.Duration(*hours) * time.Hour)
		window = fmt.Sprintf("last %dh", *hours)
	}
	outcomes = inWindow(outcomes, since)
	if len(outcomes) == 0 {
		fmt.Println("No closed trades in the selected window.")
		return
	}

	writeTable(os.Stdout, cfg.Symbol, window, outcomes)

	if *outCSV != "" {
		f, err := os.Create(*outCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to write CSV: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := writeCSV(f, outcomes); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("CSV saved to %s\n", *outCSV)
	}
}
