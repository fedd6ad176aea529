package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/data"
)

func main() {
	var (
		symbols   = flag.String("symbols", "BTCUSDT", "Comma-separated list of symbols")
		intervals = flag.String("intervals", "1h", "Comma-separated list of intervals (1m, 5m, 15m, 30m, 1h, 4h, 1d)")
		category  = flag.String("category", "spot", "Market category (spot, linear)")
		outdir    = flag.String("outdir", "data", "Root directory for the CSV files")
		startDate = flag.String("start", "", "Start date (YYYY-MM-DD), default one year ago")
		endDate   = flag.String("end", "", "End date (YYYY-MM-DD), default now")
		testnet   = flag.Bool("testnet", false, "Use the Bybit testnet")
	)
	flag.Parse()

	end := time.Now().UTC()
	start := end.AddDate(-1, 0, 0)
	if *startDate != "" {
		t, err := time.Parse("2006-01-02", *startDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid start date: %v\n", err)
			os.Exit(2)
		}
		start = t
	}
	if *endDate != "" {
		t, err := time.Parse("2006-01-02", *endDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid end date: %v\n", err)
			os.Exit(2)
		}
		end = t
	}
	if !start.Before(end) {
		fmt.Fprintln(os.Stderr, "Start date must be before end date")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := bybit.NewClient(bybit.Config{Category: *category, Testnet: *testnet})

	fmt.Println("Bybit bar downloader")
	fmt.Printf("Range: %s to %s\n", start.Format("2006-01-02"), end.Format("2006-01-02"))

	failed := 0
	for _, symbol := range splitList(*symbols, strings.ToUpper) {
		for _, interval := range splitList(*intervals, strings.ToLower) {
			if err := downloadOne(ctx, client, *outdir, *category, symbol, interval, start, end); err != nil {
				fmt.Fprintf(os.Stderr, "  %s %s failed: %v\n", symbol, interval, err)
				failed++
			}
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func downloadOne(ctx context.Context, client *bybit.Client, root, category, symbol, interval string, start, end time.Time) error {
	path, err := data.DataPath(root, client.GetName(), category, symbol, interval)
	if err != nil {
		return err
	}

	bars, err := client.GetKlinesBetween(ctx, symbol, interval, start, end)
	if err != nil {
		return err
	}
	if err := data.SaveCSV(path, bars); err != nil {
		return err
	}

	fmt.Printf("  %s %s: %d bars -> %s\n", symbol, interval, len(bars), path)
	if len(bars) > 0 {
		fmt.Printf("    first %s, last %s\n",
			bars[0].Timestamp.Format("2006-01-02 15:04"), bars[len(bars)-1].Timestamp.Format("2006-01-02 15:04"))
	}
	return nil
}

func splitList(v string, norm func(string) string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, norm(s))
		}
	}
	return out
}
