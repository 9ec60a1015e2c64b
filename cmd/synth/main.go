package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"example.com/analytics-synth/internal/app"
	"example.com/analytics-synth/internal/client"
	"example.com/analytics-synth/internal/config"
	"example.com/analytics-synth/internal/logging"
	"example.com/analytics-synth/internal/metrics"
	"example.com/analytics-synth/internal/orchestrator"
	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/synth"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		users      = flag.Int("users", 0, "number of synthetic users (default 1000)")
		days       = flag.Int("days", 0, "days of activity to generate (default 30)")
		start      = flag.String("start", "", "first day, YYYY-MM-DD (default today minus days)")
		seed       = flag.Uint64("seed", 0, "random seed; unset picks one from the clock")
		rate       = flag.Float64("conversion-rate", 0, "probability that an eligible session converts")
		workers    = flag.Int("workers", 0, "goroutines generating events")
		shards     = flag.Int("shards", 0, "user shards written as separate partitions")
		outDir     = flag.String("out", "", "output directory for parquet files")
		remote     = flag.Bool("remote", false, "submit the run to the synth server instead of generating locally")
		async      = flag.Bool("async", false, "with -remote, poll the run instead of waiting on the request")
	)
	flag.Parse()

	logger := logging.New()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}
	req := cfg.Generation
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "users":
			req.NumUsers = users
		case "days":
			req.Days = days
		case "start":
			req.StartDate = *start
		case "seed":
			req.Seed = seed
		case "conversion-rate":
			req.ConversionRate = rate
		case "workers":
			req.Workers = *workers
		case "shards":
			req.Shards = *shards
		case "out":
			cfg.Output.Dir = *outDir
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *remote {
		if err := runRemote(ctx, cfg.Server.URL, req, *async); err != nil {
			logger.Error("remote run failed", "url", cfg.Server.URL, "error", err)
			stop()
			os.Exit(1)
		}
		return
	}

	summary, err := runLocal(ctx, cfg, req, logger)
	if err != nil {
		logger.Error("generate failed", "error", err)
		stop()
		os.Exit(1)
	}
	printSummary(os.Stdout, summary)
}

func runLocal(ctx context.Context, cfg *config.Config, req pipeline.Request, logger *slog.Logger) (synth.Summary, error) {
	plan, err := req.Resolve(time.Now())
	if err != nil {
		return synth.Summary{}, err
	}

	sinks, err := app.OpenSinks(ctx, cfg.Output, false, logger)
	if err != nil {
		return synth.Summary{}, err
	}
	defer sinks.Close()
	if err := sinks.CheckShards(plan.Shards); err != nil {
		return synth.Summary{}, err
	}

	runner := pipeline.NewRunner(metrics.NewCollector(prometheus.NewRegistry()), logger)
	orch, closeOrch, err := app.NewOrchestrator(cfg, runner, sinks, logger)
	if err != nil {
		return synth.Summary{}, err
	}
	defer closeOrch()

	result, err := orch.Generate(ctx, orchestrator.DatasetInput{
		RunID: uuid.NewString(),
		Plan:  plan,
	})
	if err != nil {
		return synth.Summary{}, err
	}
	logger.Info("dataset written", "run_id", result.RunID, "dir", cfg.Output.Dir, "elapsed", result.CompletedAt.Sub(result.StartedAt))
	return result.Summary, nil
}

func runRemote(ctx context.Context, baseURL string, req pipeline.Request, async bool) error {
	c := client.New(baseURL)
	run, err := c.CreateRun(ctx, req, async)
	if err != nil {
		return err
	}
	if async {
		fmt.Printf("run %s accepted, waiting\n", run.ID)
		if run, err = c.WaitRun(ctx, run.ID, 2*time.Second); err != nil {
			return err
		}
	}
	if run.Summary == nil {
		return fmt.Errorf("run %s %s: %s", run.ID, run.Status, run.Error)
	}
	fmt.Printf("run %s %s\n", run.ID, run.Status)
	printSummary(os.Stdout, *run.Summary)
	return nil
}

func printSummary(out io.Writer, s synth.Summary) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "seed\t%d\n", s.Seed)
	fmt.Fprintf(tw, "date range\t%s .. %s\n", s.FirstDate.Format(time.DateOnly), s.LastDate.Format(time.DateOnly))
	fmt.Fprintf(tw, "users\t%d (%d active)\n", s.Users, s.ActiveUsers)
	fmt.Fprintf(tw, "sessions\t%d (%d bounced)\n", s.Sessions, s.Bounces)
	fmt.Fprintf(tw, "events\t%d\n", s.Events)
	fmt.Fprintf(tw, "conversions\t%d (%.1f%% of sessions)\n", s.Conversions, 100*s.ConversionRate())
	fmt.Fprintf(tw, "revenue\t%.2f\n", s.Revenue)

	fmt.Fprintln(tw, "\nsegments")
	for _, seg := range slices.Sorted(maps.Keys(s.Segments)) {
		fmt.Fprintf(tw, "  %s\t%d\n", seg, s.Segments[seg])
	}
	fmt.Fprintln(tw, "\ndevices (events)")
	for _, dev := range slices.Sorted(maps.Keys(s.Devices)) {
		fmt.Fprintf(tw, "  %s\t%d\n", dev, s.Devices[dev])
	}
	fmt.Fprintln(tw, "\ntop pages")
	for _, p := range s.TopPages(10) {
		fmt.Fprintf(tw, "  %s\t%d\n", p.Page, p.Count)
	}
}
