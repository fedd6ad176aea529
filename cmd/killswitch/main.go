package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/audit"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/config"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/safety"
)

const usage = `Usage: killswitch [-config name] <command> [flags]

Commands:
  status                 Show whether the kill switch is active
  trigger -reason TEXT   Halt every bot sharing the marker
  reset -confirm         Clear the marker; running bots stay halted until restarted
`

func main() {
	configFile := flag.String("config", "config", "Configuration file or name under configs/")
	envFile := flag.String("env", ".env", "Environment file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load(*envFile)

	cfg, err := config.LoadUnvalidated(config.ResolvePath(*configFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	store, closeStore, err := safety.OpenMarkerStore(ctx, cfg.Safety)
	if err != nil {
		return err
	}
	defer closeStore()

	var sink audit.Sink = audit.Nop{}
	if cfg.Audit.FilePath != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.FilePath)
		if err != nil {
			return err
		}
		defer fileSink.Close()
		sink = fileSink
	}

	log, err := logger.New(logger.Config{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}
	ks := safety.NewKillSwitch(store, safety.SystemClock, sink, log)

	switch cmd {
	case "status":
		return status(ctx, ks)

	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ExitOnError)
		reason := fs.String("reason", "manual stop", "Why trading is halted")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := ks.Trigger(ctx, *reason, safety.SourceManual); err != nil {
			return err
		}
		return status(ctx, ks)

	case "reset":
		fs := flag.NewFlagSet("reset", flag.ExitOnError)
		confirm := fs.Bool("confirm", false, "Required to clear the marker")
		if err := fs.Parse(args); err != nil {
			return err
		}
		done, err := ks.Reset(ctx, *confirm)
		if err != nil {
			return err
		}
		if !done {
			return fmt.Errorf("reset refused: pass -confirm to clear the kill switch")
		}
		fmt.Println("Kill switch marker cleared. Restart halted bots to resume trading.")
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func status(ctx context.Context, ks *safety.KillSwitch) error {
	marker, err := ks.Status(ctx)
	if err != nil {
		return err
	}
	if marker == nil {
		fmt.Println("Kill switch: clear")
		return nil
	}

	fmt.Println("Kill switch: ACTIVE")
	if !marker.TriggeredAt.IsZero() {
		fmt.Printf("  Triggered: %s\n", marker.TriggeredAt.Format(time.RFC3339))
	}
	fmt.Printf("  Source:    %s\n", marker.Source)
	fmt.Printf("  Reason:    %s\n", marker.Reason)
	return nil
}
