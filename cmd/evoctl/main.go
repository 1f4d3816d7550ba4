// Command evoctl queries and controls a running evosim over its HTTP API.
//
//	evoctl status | stats | history [n] | advisories [n] | start | stop | watch
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/evosim/internal/control"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Configuration from environment.
	apiURL := envOrDefault("EVOSIM_API_URL", "http://localhost:8080")
	adminKey := os.Getenv("EVOSIM_ADMIN_KEY")
	watchSec := envIntOrDefault("EVOCTL_WATCH_INTERVAL", 5)

	observer := control.NewObserver(apiURL)
	actor := control.NewActor(apiURL, adminKey)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd := os.Args[1]; cmd {
	case "status":
		err = printStatus(ctx, observer)
	case "stats":
		err = printStats(ctx, observer)
	case "history":
		err = printHistory(ctx, observer, argInt(2, 20))
	case "advisories":
		err = printAdvisories(ctx, observer, argInt(2, 5))
	case "start", "stop":
		if adminKey == "" {
			slog.Error("EVOSIM_ADMIN_KEY is required")
			os.Exit(1)
		}
		var st *control.Status
		if cmd == "start" {
			st, err = actor.Start(ctx)
		} else {
			st, err = actor.Stop(ctx)
		}
		if err == nil {
			fmt.Printf("%s: state=%s run=%s\n", cmd, st.State, st.RunID)
		}
	case "watch":
		err = watch(ctx, observer, time.Duration(watchSec)*time.Second)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: evoctl status | stats | history [n] | advisories [n] | start | stop | watch")
}

func printStatus(ctx context.Context, o *control.Observer) error {
	st, err := o.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("state:       %s\n", st.State)
	if st.Running {
		fmt.Printf("run:         %s (started %s)\n", st.RunID, humanize.Time(st.StartedAt))
		fmt.Printf("generation:  %s, tick %s/%s\n",
			humanize.Comma(int64(st.Generation)), humanize.Comma(int64(st.Tick)), humanize.Comma(int64(st.GenerationLength)))
	}
	fmt.Printf("network:     %s, %d agents\n", st.Topology, st.Population)
	fmt.Printf("evolution:   mutation %.2f, elites %.0f%%, tournament %d\n",
		st.MutationRate, st.EliteFraction*100, st.TournamentSize)
	fmt.Printf("viewers:     %d\n", st.Streams)
	if st.LastError != "" {
		fmt.Printf("last error:  %s\n", st.LastError)
	}
	return nil
}

func printStats(ctx context.Context, o *control.Observer) error {
	snap, err := o.Stats(ctx)
	if err != nil {
		return err
	}
	p := snap.Population
	fmt.Printf("generation %d tick %d: %d agents\n", snap.Generation, snap.Tick, p.Size)
	fmt.Printf("fitness   avg %s  max %s  elite %s\n",
		humanize.FormatFloat("#,###.##", p.AvgFitness),
		humanize.FormatFloat("#,###.##", p.MaxFitness),
		humanize.FormatFloat("#,###.##", p.EliteFitness))
	for _, l := range snap.Layers {
		fmt.Printf("%-8s mean %+.4f  var %.4f\n", l.Name, l.AvgWeight, l.Variance)
	}
	if snap.Performance.LastAnalysis != "" {
		fmt.Printf("analysis: %s\n", snap.Performance.LastAnalysis)
	}
	return nil
}

func printHistory(ctx context.Context, o *control.Observer, n int) error {
	rows, err := o.History(ctx, "", n)
	if err != nil {
		return err
	}
	fmt.Printf("%6s %12s %12s %12s\n", "gen", "avg", "max", "elite")
	for _, r := range rows {
		fmt.Printf("%6d %12.2f %12.2f %12.2f\n", r.Generation, r.AvgFitness, r.MaxFitness, r.Elite)
	}
	return nil
}

func printAdvisories(ctx context.Context, o *control.Observer, n int) error {
	advs, err := o.Advisories(ctx, "", n)
	if err != nil {
		return err
	}
	for _, a := range advs {
		fmt.Printf("generation %d: score %.0f\n  %s\n", a.Generation, a.PerformanceScore, a.Summary)
		for _, r := range a.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}
	return nil
}

// watch logs progress until interrupted, noting each generation change.
func watch(ctx context.Context, o *control.Observer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastGen := -1
	for {
		st, err := o.Status(ctx)
		if err != nil {
			slog.Warn("status failed", "error", err)
		} else if st.Generation != lastGen {
			lastGen = st.Generation
			snap, err := o.Stats(ctx)
			if err == nil {
				slog.Info("progress",
					"state", st.State,
					"generation", st.Generation,
					"max_fitness", fmt.Sprintf("%.1f", snap.Population.MaxFitness),
					"avg_fitness", fmt.Sprintf("%.1f", snap.Population.AvgFitness),
				)
			}
		}

		select {
		case <-ctx.Done():
			fmt.Println("watch stopped.")
			return nil
		case <-ticker.C:
		}
	}
}

func argInt(i, def int) int {
	if len(os.Args) > i {
		if n, err := strconv.Atoi(os.Args[i]); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
