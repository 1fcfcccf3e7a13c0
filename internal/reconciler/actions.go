package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"gitlab.bluewillows.net/root/rpzsync/internal/deploy"
	"gitlab.bluewillows.net/root/rpzsync/internal/domainset"
	"gitlab.bluewillows.net/root/rpzsync/internal/metrics"
	"gitlab.bluewillows.net/root/rpzsync/pkg/bam"
)

// applyPhase runs one add or remove per domain with bounded parallelism.
// The phase returns only after every call has finished. A session-level
// error cancels the calls not yet started and is returned.
func (r *Reconciler) applyPhase(ctx context.Context, kind ActionType, zoneID bam.ID, domains domainset.Set, result *Result) error {
	if domains.Len() == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for _, domain := range domains.Sorted() {
		g.Go(func() error {
			var action Action
			var err error
			if cerr := gctx.Err(); cerr != nil {
				action = Action{Type: kind, Status: StatusFailed, Target: domain, Error: "aborted: " + cerr.Error()}
			} else if kind == ActionAdd {
				action, err = r.addDomain(gctx, zoneID, domain)
			} else {
				action, err = r.removeDomain(gctx, zoneID, domain)
			}

			mu.Lock()
			result.AddAction(action)
			mu.Unlock()
			metrics.ItemsTotal.WithLabelValues(string(kind), string(action.Status)).Inc()

			if err != nil && bam.IsUnauthorized(err) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s phase aborted: %w", kind, err)
	}
	return nil
}

func (r *Reconciler) addDomain(ctx context.Context, zoneID bam.ID, domain string) (Action, error) {
	action := Action{Type: ActionAdd, Target: domain}

	if err := r.api.AddItem(ctx, zoneID, domain); err != nil {
		r.logger.Error("failed to add domain",
			slog.String("domain", domain),
			slog.String("error", err.Error()),
		)
		action.Status = StatusFailed
		action.Error = err.Error()
		return action, err
	}

	r.logger.Debug("added domain", slog.String("domain", domain))
	action.Status = StatusSuccess
	return action, nil
}

func (r *Reconciler) removeDomain(ctx context.Context, zoneID bam.ID, domain string) (Action, error) {
	action := Action{Type: ActionRemove, Target: domain}

	removed, err := r.api.RemoveItem(ctx, zoneID, domain)
	if err != nil {
		r.logger.Error("failed to remove domain",
			slog.String("domain", domain),
			slog.String("error", err.Error()),
		)
		action.Status = StatusFailed
		action.Error = err.Error()
		return action, err
	}

	if !removed {
		action.Status = StatusSkipped
		action.Error = "already absent"
		return action, nil
	}

	r.logger.Debug("removed domain", slog.String("domain", domain))
	action.Status = StatusSuccess
	return action, nil
}

// deploy resolves the target servers and requests a deployment on each.
func (r *Reconciler) deploy(ctx context.Context, result *Result) error {
	servers, err := r.api.ListServers(ctx)
	if err != nil {
		if bam.IsUnauthorized(err) {
			return err
		}
		r.logger.Error("cannot list servers, skipping deployment", slog.String("error", err.Error()))
		result.AddAction(Action{Type: ActionDeploy, Status: StatusFailed, Target: r.config.TargetServers, Error: err.Error()})
		metrics.DeploymentsTotal.WithLabelValues(string(StatusFailed)).Inc()
		result.DeploySkipped = "server list unavailable"
		return nil
	}

	ids, missing, err := deploy.Select(r.config.TargetServers, servers)
	if len(missing) > 0 {
		r.logger.Warn("deployment targets not found on appliance", slog.Any("names", missing))
	}
	if err != nil {
		var mismatch *deploy.ConfigMismatchError
		if errors.As(err, &mismatch) {
			r.logger.Warn("deployment skipped", slog.String("reason", err.Error()))
			result.DeploySkipped = err.Error()
			return nil
		}
		return err
	}
	if len(ids) == 0 {
		result.DeploySkipped = "no servers"
		r.logger.Warn("appliance reports no servers, skipping deployment")
		return nil
	}

	r.logger.Info("triggering deployments", slog.Int("servers", len(ids)))

	var authErr error
	for _, o := range r.api.TriggerDeployments(ctx, ids) {
		action := Action{Type: ActionDeploy, Target: o.ServerID.String(), Status: StatusSuccess}
		if o.Err != nil {
			action.Status = StatusFailed
			action.Error = o.Err.Error()
			if bam.IsUnauthorized(o.Err) && authErr == nil {
				authErr = o.Err
			}
		}
		result.AddAction(action)
		metrics.DeploymentsTotal.WithLabelValues(string(action.Status)).Inc()
	}

	if authErr != nil {
		return fmt.Errorf("deployment aborted: %w", authErr)
	}
	return nil
}
