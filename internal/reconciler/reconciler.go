// Package reconciler brings the appliance's response policy zone in line
// with the authoritative blocklist and deploys the result to DNS servers.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gitlab.bluewillows.net/root/rpzsync/internal/deploy"
	"gitlab.bluewillows.net/root/rpzsync/internal/domainset"
	"gitlab.bluewillows.net/root/rpzsync/internal/metrics"
	"gitlab.bluewillows.net/root/rpzsync/pkg/bam"
)

// PolicyAPI is the appliance surface used by the reconciler.
// *bam.Client satisfies it.
type PolicyAPI interface {
	FindConfiguration(ctx context.Context, name string) (bam.Configuration, bool, error)
	FindZone(ctx context.Context, name string) (bam.PolicyZone, bool, error)
	CreateZone(ctx context.Context, configID bam.ID, name string) (bam.PolicyZone, error)
	ListItems(ctx context.Context, zoneID bam.ID) ([]bam.PolicyItem, error)
	AddItem(ctx context.Context, zoneID bam.ID, domain string) error
	RemoveItem(ctx context.Context, zoneID bam.ID, domain string) (bool, error)
	ListServers(ctx context.Context) ([]bam.Server, error)
	TriggerDeployments(ctx context.Context, serverIDs []bam.ID) []bam.DeploymentOutcome
}

// ErrNoConfiguration is returned when the zone must be created but the
// appliance has no usable parent configuration.
var ErrNoConfiguration = errors.New("no configuration available to hold the policy zone")

// Config holds reconciler configuration options.
type Config struct {
	// ZoneName is the response policy zone to manage.
	ZoneName string

	// Configuration names the parent configuration for zone creation.
	// Empty selects the first configuration the appliance lists.
	Configuration string

	// TargetServers is "ALL" or a comma-separated list of server names.
	TargetServers string

	// DryRun if true, computes and logs the diff without applying it.
	DryRun bool

	// Concurrency bounds parallel add and remove calls within a phase.
	Concurrency int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ZoneName:      bam.DefaultZoneName,
		TargetServers: deploy.All,
		Concurrency:   4,
	}
}

// Reconciler applies the authoritative domain set to one appliance.
type Reconciler struct {
	api    PolicyAPI
	config Config
	logger *slog.Logger
}

// Option is a functional option for configuring the Reconciler.
type Option func(*Reconciler)

// WithLogger sets a custom logger for the reconciler.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConfig sets the reconciler configuration.
func WithConfig(cfg Config) Option {
	return func(r *Reconciler) {
		r.config = cfg
	}
}

// New creates a Reconciler for an authenticated appliance client.
func New(api PolicyAPI, opts ...Option) *Reconciler {
	r := &Reconciler{
		api:    api,
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.config.ZoneName == "" {
		r.config.ZoneName = bam.DefaultZoneName
	}
	if r.config.Concurrency <= 0 {
		r.config.Concurrency = 1
	}
	return r
}

// Config returns the effective configuration.
func (r *Reconciler) Config() Config {
	return r.config
}

// Reconcile makes the zone's policy items equal desired.
//
// The steps are:
//  1. Ensure the policy zone exists (created if absent)
//  2. List every policy item and diff against desired
//  3. Add missing domains, then remove extra domains
//  4. If anything changed, deploy to the selected servers
//
// Per-domain and per-server failures are recorded in the Result and do not
// stop the run. A session-level failure, a zone failure, or a failure to
// list the current items aborts and is returned as an error alongside the
// partial Result.
func (r *Reconciler) Reconcile(ctx context.Context, desired domainset.Set) (*Result, error) {
	result := NewResult(r.config.DryRun)
	result.Zone = r.config.ZoneName
	result.DesiredCount = desired.Len()
	defer result.Complete()

	r.logger.Info("starting reconciliation",
		slog.String("zone", r.config.ZoneName),
		slog.Int("desired", desired.Len()),
		slog.Bool("dry_run", r.config.DryRun),
	)

	zoneID, err := r.ensureZone(ctx, result)
	if err != nil {
		return result, err
	}
	result.ZoneID = zoneID.String()

	remote := domainset.New()
	if zoneID != "" {
		items, err := r.api.ListItems(ctx, zoneID)
		if err != nil {
			return result, fmt.Errorf("reading current policy items: %w", err)
		}
		for _, it := range items {
			remote.Add(it.Name)
		}
	}
	result.RemoteCount = remote.Len()
	metrics.DomainsRemote.Set(float64(remote.Len()))

	diff := domainset.Compare(desired, remote)
	result.ToAdd = diff.ToAdd.Len()
	result.ToRemove = diff.ToRemove.Len()

	r.logger.Info("computed diff",
		slog.Int("remote", remote.Len()),
		slog.Int("to_add", diff.ToAdd.Len()),
		slog.Int("to_remove", diff.ToRemove.Len()),
	)

	if r.config.DryRun {
		r.planOnly(diff, result)
		result.DeploySkipped = "dry-run"
		return result, nil
	}

	if err := r.applyPhase(ctx, ActionAdd, zoneID, diff.ToAdd, result); err != nil {
		return result, err
	}
	if err := r.applyPhase(ctx, ActionRemove, zoneID, diff.ToRemove, result); err != nil {
		return result, err
	}

	if !diff.HasChanges() {
		result.DeploySkipped = "no changes"
		r.logger.Info("zone already in sync, skipping deployment", slog.String("zone", r.config.ZoneName))
		return result, nil
	}

	if err := r.deploy(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

// ensureZone returns the id of the managed zone, creating it if needed.
// In dry-run an absent zone yields an empty id and nothing is created.
func (r *Reconciler) ensureZone(ctx context.Context, result *Result) (bam.ID, error) {
	zone, found, err := r.api.FindZone(ctx, r.config.ZoneName)
	if err != nil {
		return "", fmt.Errorf("looking up zone %s: %w", r.config.ZoneName, err)
	}
	if found {
		r.logger.Debug("using existing zone",
			slog.String("zone", zone.Name),
			slog.String("id", zone.ID.String()),
		)
		return zone.ID, nil
	}

	if r.config.DryRun {
		result.AddAction(Action{Type: ActionCreateZone, Status: StatusSkipped, Target: r.config.ZoneName})
		r.logger.Info("would create zone (dry-run)", slog.String("zone", r.config.ZoneName))
		return "", nil
	}

	cfg, found, err := r.api.FindConfiguration(ctx, r.config.Configuration)
	if err != nil {
		return "", fmt.Errorf("finding parent configuration: %w", err)
	}
	if !found {
		err := ErrNoConfiguration
		if r.config.Configuration != "" {
			err = fmt.Errorf("%w: %q not found", ErrNoConfiguration, r.config.Configuration)
		}
		result.AddAction(Action{Type: ActionCreateZone, Status: StatusFailed, Target: r.config.ZoneName, Error: err.Error()})
		return "", err
	}

	zone, err = r.api.CreateZone(ctx, cfg.ID, r.config.ZoneName)
	if err != nil {
		result.AddAction(Action{Type: ActionCreateZone, Status: StatusFailed, Target: r.config.ZoneName, Error: err.Error()})
		return "", err
	}

	result.AddAction(Action{Type: ActionCreateZone, Status: StatusSuccess, Target: zone.Name})
	return zone.ID, nil
}

// planOnly records the diff as skipped actions.
func (r *Reconciler) planOnly(diff domainset.Diff, result *Result) {
	for _, d := range diff.ToAdd.Sorted() {
		result.AddAction(Action{Type: ActionAdd, Status: StatusSkipped, Target: d})
		r.logger.Info("would add domain (dry-run)", slog.String("domain", d))
	}
	for _, d := range diff.ToRemove.Sorted() {
		result.AddAction(Action{Type: ActionRemove, Status: StatusSkipped, Target: d})
		r.logger.Info("would remove domain (dry-run)", slog.String("domain", d))
	}
}
