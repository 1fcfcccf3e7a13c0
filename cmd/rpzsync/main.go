// rpzsync keeps DNS response policy zones in line with a blocklist kept in
// S3. It publishes the list as an RPZ zone file for a local or remote
// resolver and as policy items on a BlueCat Address Manager, then deploys
// the appliance's changes to the selected servers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gitlab.bluewillows.net/root/rpzsync/internal/config"
	"gitlab.bluewillows.net/root/rpzsync/internal/engine"
	"gitlab.bluewillows.net/root/rpzsync/internal/health"
	"gitlab.bluewillows.net/root/rpzsync/internal/metrics"
	"gitlab.bluewillows.net/root/rpzsync/internal/scheduler"
	"gitlab.bluewillows.net/root/rpzsync/pkg/bam"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-10-18"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// pushJob is the Pushgateway job name for one-shot runs.
const pushJob = "rpzsync"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbosity int

	cmd := &cobra.Command{
		Use:   "rpzsync",
		Short: "Sync an S3 blocklist into RPZ zone files and BlueCat response policies",
		Long: `Sync an S3 blocklist into RPZ zone files and BlueCat response policies.

The blocklist object holds one domain per line. Each run fetches it once and
applies it to every enabled target:

  - a BIND response policy zone file, written locally or over SFTP and
    optionally followed by a resolver reload
  - a BlueCat Address Manager response policy, followed by a differential
    deployment to the selected DNS servers

All settings come from the environment (BLUECAT_*, S3_*, AWS_*, RPZSYNC_*) or
from the file named by RPZSYNC_CONFIG_FILE. With RPZSYNC_INTERVAL unset the
process runs once and exits.`,
		Example: `  BLUECAT_IPADDR=10.0.0.5 BLUECAT_USER=api BLUECAT_PWD=... \
  BLUECAT_TARGET_BDDS=ns1,ns2 S3_BUCKET_NAME=blocklists \
  S3_OBJECT_FILE_NAME=domains.txt rpzsync -v`,
		Args:          cobra.NoArgs,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), verbosity)
		},
	}
	cmd.Flags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	return cmd
}

func run(ctx context.Context, verbosity int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := setupLogger(verbosityLevel(verbosity), cfg.LogFormat)
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, runtime.Version())

	logger.Info("rpzsync starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.Bool("dry_run", cfg.DryRun),
		slog.Bool("appliance", cfg.Bluecat.Enabled()),
		slog.Bool("zone_file", cfg.ZoneFile.Enabled),
		slog.Duration("interval", cfg.Interval),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Interval <= 0 {
		return runOnce(ctx, cfg, a, logger)
	}
	return serve(ctx, cfg, a, logger)
}

// runOnce performs a single sync. Only a rejected appliance session makes
// the process exit non-zero; every other failure is logged and counted.
func runOnce(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) error {
	report, err := a.engine.RunOnce(ctx)
	logReport(logger, report)

	if cfg.PushgatewayURL != "" {
		if perr := metrics.Push(cfg.PushgatewayURL, pushJob); perr != nil {
			logger.Warn("pushing metrics failed", slog.String("error", perr.Error()))
		}
	}

	if engine.IsFatal(err) {
		return err
	}
	return nil
}

// serve runs the scheduler and the health server until a shutdown signal
// or a rejected appliance session.
func serve(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	healthServer := health.New(cfg.HealthPort,
		health.WithLogger(logger),
		health.WithRuns(lastRun(a.engine), 3*cfg.Interval),
	)
	if a.appliance != nil {
		healthServer.AddCheck("bluecat", applianceChecker(a.appliance))
	}
	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}

	sched := scheduler.New(func(ctx context.Context) {
		report, err := a.engine.RunOnce(ctx)
		logReport(logger, report)
		if engine.IsFatal(err) {
			cancel(err)
		}
	},
		scheduler.WithLogger(logger),
		scheduler.WithConfig(scheduler.Config{
			Interval:         cfg.Interval,
			DebounceInterval: 2 * time.Second,
		}),
	)
	sched.Start(ctx)

	logger.Info("rpzsync initialized, running periodically",
		slog.Duration("interval", cfg.Interval),
		slog.Int("health_port", cfg.HealthPort),
	)

	// SIGHUP requests an extra run.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-hup:
			logger.Info("received SIGHUP, scheduling a run")
			sched.Trigger()
		}
	}

	logger.Info("shutting down...")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown error", slog.String("error", err.Error()))
	}

	if cause := context.Cause(ctx); engine.IsFatal(cause) {
		return cause
	}
	logger.Info("rpzsync shutdown complete")
	return nil
}

// applianceChecker pings the appliance, logging in first when the session
// is missing or expired.
func applianceChecker(client *bam.Client) health.Check {
	return func(ctx context.Context) error {
		err := client.Ping(ctx)
		if err == nil || !bam.IsUnauthorized(err) {
			return err
		}
		if err := client.Login(ctx); err != nil {
			return err
		}
		return client.Ping(ctx)
	}
}

// lastRun exposes the engine's latest report to the readiness endpoint.
func lastRun(e *engine.Engine) health.RunSource {
	return func() *health.LastRun {
		report := e.LastReport()
		if report == nil {
			return nil
		}
		return &health.LastRun{
			Outcome:  report.Outcome(),
			Finished: report.EndTime,
			Desired:  report.Desired,
			Problems: report.Problems(),
		}
	}
}

func logReport(logger *slog.Logger, report *engine.Report) {
	if report == nil {
		return
	}
	attrs := []any{
		slog.String("outcome", report.Outcome()),
		slog.Int("domains", report.Desired),
		slog.Duration("duration", report.Duration()),
	}
	if z := report.ZoneFile; z != nil && z.Err == nil {
		attrs = append(attrs,
			slog.String("zone_file", z.Outcome.Path),
			slog.Bool("zone_file_changed", z.Outcome.Changed),
			slog.Bool("reloaded", z.Reloaded),
		)
	}
	if r := report.Appliance; r != nil {
		attrs = append(attrs,
			slog.Int("added", r.AddedCount()),
			slog.Int("removed", r.RemovedCount()),
			slog.Int("deployed", r.DeployedCount()),
		)
	}

	problems := report.Problems()
	if len(problems) == 0 {
		logger.Info("sync complete", attrs...)
		return
	}
	attrs = append(attrs, slog.Any("problems", problems))
	logger.Warn("sync completed with problems", attrs...)
}

func setupLogger(level slog.Level, format string) *slog.Logger {
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// verbosityLevel maps the -v count to a level: none is warn, -v is info,
// -vv and above is debug.
func verbosityLevel(count int) slog.Level {
	switch {
	case count <= 0:
		return slog.LevelWarn
	case count == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
