// Package engine runs one complete sync: it fetches the authoritative
// blocklist once and brings every enabled target in line with it.
//
// The zone file target and the appliance target are independent. A failure
// in one never prevents or undoes work on the other. A failure to fetch the
// blocklist stops the run before either target is touched, so an unreadable
// source can never be mistaken for an empty blocklist.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gitlab.bluewillows.net/root/rpzsync/internal/domainset"
	"gitlab.bluewillows.net/root/rpzsync/internal/metrics"
	"gitlab.bluewillows.net/root/rpzsync/internal/objectstore"
	"gitlab.bluewillows.net/root/rpzsync/internal/reconciler"
	"gitlab.bluewillows.net/root/rpzsync/internal/reload"
	"gitlab.bluewillows.net/root/rpzsync/internal/zonefile"
	"gitlab.bluewillows.net/root/rpzsync/pkg/bam"
)

// Run outcomes reported to metrics.
const (
	OutcomeSuccess    = "success"
	OutcomePartial    = "partial"
	OutcomeError      = "error"
	OutcomeFetchError = "fetch_error"
	OutcomeAuthError  = "auth_error"
)

// Appliance is the policy API plus session login.
type Appliance interface {
	reconciler.PolicyAPI
	Login(ctx context.Context) error
}

// ZoneWriter publishes the zone file. *zonefile.Writer implements it.
type ZoneWriter interface {
	Write(ctx context.Context, domains domainset.Set) (zonefile.Outcome, error)
}

// Session is a connection opened around each zone file publish, such as
// the SFTP session of a remote resolver host.
type Session interface {
	Connect(ctx context.Context) error
	Close() error
}

// Source locates the blocklist object.
type Source struct {
	Bucket string
	Key    string
}

// Engine wires the source and the targets together.
type Engine struct {
	store  objectstore.Getter
	source Source
	logger *slog.Logger

	zone     ZoneWriter
	session  Session
	reloader reload.Reloader

	appliance      Appliance
	reconcilerOpts []reconciler.Option

	mu   sync.RWMutex
	last *Report
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithZoneFile enables the zone file target. reloader may be nil.
func WithZoneFile(w ZoneWriter, reloader reload.Reloader) Option {
	return func(e *Engine) {
		e.zone = w
		e.reloader = reloader
	}
}

// WithZoneSession opens s before each zone file publish and closes it after.
func WithZoneSession(s Session) Option {
	return func(e *Engine) {
		e.session = s
	}
}

// WithAppliance enables the appliance target.
func WithAppliance(api Appliance, cfg reconciler.Config) Option {
	return func(e *Engine) {
		e.appliance = api
		e.reconcilerOpts = append(e.reconcilerOpts, reconciler.WithConfig(cfg))
	}
}

// New creates an Engine reading the blocklist from src through store.
func New(store objectstore.Getter, src Source, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		source: src,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reconcilerOpts = append(e.reconcilerOpts, reconciler.WithLogger(e.logger))
	return e
}

// LastReport returns the report of the most recent run, or nil.
func (e *Engine) LastReport() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// RunOnce performs one sync. The returned error is non-nil only when the
// run could not proceed at all: the blocklist could not be fetched
// (*objectstore.FetchError) or the appliance rejected the session
// (bam.IsUnauthorized). Every other failure is recorded in the Report.
func (e *Engine) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{StartTime: time.Now()}
	defer func() {
		report.EndTime = time.Now()
		metrics.ObserveRun(report.Outcome(), report.Duration())
		e.mu.Lock()
		e.last = report
		e.mu.Unlock()
	}()

	data, err := e.store.GetObject(ctx, e.source.Bucket, e.source.Key)
	if err != nil {
		report.FetchErr = err
		e.logger.Error("fetching blocklist failed, no target was modified",
			slog.String("bucket", e.source.Bucket),
			slog.String("key", e.source.Key),
			slog.String("error", err.Error()),
		)
		return report, err
	}

	desired := domainset.Parse(data)
	report.Desired = desired.Len()
	metrics.DomainsDesired.Set(float64(desired.Len()))
	e.logger.Info("fetched blocklist",
		slog.String("bucket", e.source.Bucket),
		slog.String("key", e.source.Key),
		slog.Int("domains", desired.Len()),
	)

	var g errgroup.Group
	if e.zone != nil {
		g.Go(func() error {
			e.syncZoneFile(ctx, desired, report)
			return nil
		})
	}
	if e.appliance != nil {
		g.Go(func() error {
			e.syncAppliance(ctx, desired, report)
			return nil
		})
	}
	_ = g.Wait()

	if report.ApplianceErr != nil && bam.IsUnauthorized(report.ApplianceErr) {
		return report, report.ApplianceErr
	}
	return report, nil
}

func (e *Engine) syncZoneFile(ctx context.Context, desired domainset.Set, report *Report) {
	zr := &ZoneFileReport{}
	report.ZoneFile = zr

	if e.session != nil {
		if err := e.session.Connect(ctx); err != nil {
			zr.Err = fmt.Errorf("connecting to zone file host: %w", err)
			e.zoneFailed(zr.Err)
			return
		}
		defer func() {
			if err := e.session.Close(); err != nil {
				e.logger.Debug("closing zone file session", slog.String("error", err.Error()))
			}
		}()
	}

	out, err := e.zone.Write(ctx, desired)
	zr.Outcome = out
	if err != nil {
		zr.Err = err
		e.zoneFailed(err)
		return
	}

	switch {
	case !out.Changed:
		metrics.ZoneFileWritesTotal.WithLabelValues("unchanged").Inc()
		return
	case out.DryRun:
		metrics.ZoneFileWritesTotal.WithLabelValues("dry_run").Inc()
		return
	}

	metrics.ZoneFileWritesTotal.WithLabelValues("success").Inc()
	metrics.ZoneFileSerial.Set(float64(out.Serial))

	if e.reloader == nil {
		return
	}
	if err := e.reloader.Reload(ctx); err != nil {
		zr.ReloadErr = err
		e.logger.Error("resolver reload failed",
			slog.String("reloader", e.reloader.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	zr.Reloaded = true
	e.logger.Info("resolver reloaded", slog.String("reloader", e.reloader.String()))
}

func (e *Engine) zoneFailed(err error) {
	metrics.ZoneFileWritesTotal.WithLabelValues("failed").Inc()
	e.logger.Error("zone file target failed", slog.String("error", err.Error()))
}

func (e *Engine) syncAppliance(ctx context.Context, desired domainset.Set, report *Report) {
	if err := e.appliance.Login(ctx); err != nil {
		report.ApplianceErr = err
		e.logger.Error("appliance login failed", slog.String("error", err.Error()))
		return
	}

	rec := reconciler.New(e.appliance, e.reconcilerOpts...)
	result, err := rec.Reconcile(ctx, desired)
	report.Appliance = result
	if err != nil {
		report.ApplianceErr = err
		e.logger.Error("appliance reconciliation aborted", slog.String("error", err.Error()))
	}

	if result != nil {
		level := slog.LevelInfo
		if result.HasErrors() {
			level = slog.LevelWarn
		}
		e.logger.Log(ctx, level, result.Summary())
	}
}

// Report describes one run.
type Report struct {
	StartTime time.Time
	EndTime   time.Time
	Desired   int

	// FetchErr is set when the blocklist could not be read. No target
	// runs in that case.
	FetchErr error

	// ZoneFile is nil when the zone file target is disabled.
	ZoneFile *ZoneFileReport

	// Appliance is nil when the appliance target is disabled or login failed.
	Appliance    *reconciler.Result
	ApplianceErr error
}

// ZoneFileReport describes the zone file target of one run.
type ZoneFileReport struct {
	Outcome   zonefile.Outcome
	Err       error
	Reloaded  bool
	ReloadErr error
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// Outcome classifies the run for metrics.
func (r *Report) Outcome() string {
	switch {
	case r.FetchErr != nil:
		return OutcomeFetchError
	case r.ApplianceErr != nil && bam.IsUnauthorized(r.ApplianceErr):
		return OutcomeAuthError
	case r.ApplianceErr != nil, r.ZoneFile != nil && r.ZoneFile.Err != nil:
		return OutcomeError
	case r.ZoneFile != nil && r.ZoneFile.ReloadErr != nil,
		r.Appliance != nil && r.Appliance.HasErrors():
		return OutcomePartial
	default:
		return OutcomeSuccess
	}
}

// Problems lists the failures of the run in a form fit for logs and the
// readiness endpoint. It is empty after a clean run.
func (r *Report) Problems() []string {
	var out []string
	if r.FetchErr != nil {
		out = append(out, "fetch: "+r.FetchErr.Error())
	}
	if z := r.ZoneFile; z != nil {
		if z.Err != nil {
			out = append(out, "zone file: "+z.Err.Error())
		}
		if z.ReloadErr != nil {
			out = append(out, "reload: "+z.ReloadErr.Error())
		}
	}
	if r.ApplianceErr != nil {
		out = append(out, "appliance: "+r.ApplianceErr.Error())
	}
	if a := r.Appliance; a != nil && a.HasErrors() {
		out = append(out, fmt.Sprintf("appliance: %d failed adds, %d failed removes, %d failed deployments",
			a.FailedAdds(), a.FailedRemoves(), a.FailedDeployments()))
	}
	return out
}

// IsFatal reports whether err should stop the process with a non-zero exit.
func IsFatal(err error) bool {
	return err != nil && bam.IsUnauthorized(err)
}
