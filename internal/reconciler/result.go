package reconciler

import (
	"fmt"
	"strings"
	"time"
)

// ActionType represents the type of reconciliation action.
type ActionType string

const (
	// ActionCreateZone indicates the policy zone was created.
	ActionCreateZone ActionType = "create_zone"
	// ActionAdd indicates a domain was added to the zone.
	ActionAdd ActionType = "add"
	// ActionRemove indicates a domain was removed from the zone.
	ActionRemove ActionType = "remove"
	// ActionDeploy indicates a deployment was requested on a server.
	ActionDeploy ActionType = "deploy"
)

// ActionStatus represents the outcome of an action.
type ActionStatus string

const (
	// StatusSuccess indicates the action completed successfully.
	StatusSuccess ActionStatus = "success"
	// StatusFailed indicates the action failed.
	StatusFailed ActionStatus = "failed"
	// StatusSkipped indicates the action was not needed or not executed (dry-run).
	StatusSkipped ActionStatus = "skipped"
)

// Action represents a single operation against the appliance.
type Action struct {
	Type   ActionType
	Status ActionStatus

	// Target is the domain, zone name, or server id acted on.
	Target string

	// Error contains the error message if Status is StatusFailed,
	// or the skip reason if Status is StatusSkipped.
	Error string

	DryRun bool
}

// String returns a human-readable representation of the action.
func (a Action) String() string {
	status := string(a.Status)
	if a.DryRun {
		status = "dry-run"
	}
	if a.Error != "" {
		return fmt.Sprintf("[%s] %s %s: %s", status, a.Type, a.Target, a.Error)
	}
	return fmt.Sprintf("[%s] %s %s", status, a.Type, a.Target)
}

// Result holds the complete result of a reconciliation run.
type Result struct {
	StartTime time.Time
	EndTime   time.Time

	// Zone is the policy zone name and ZoneID its appliance id
	// (empty in dry-run when the zone does not exist yet).
	Zone   string
	ZoneID string

	// DesiredCount is the size of the authoritative set.
	DesiredCount int

	// RemoteCount is the number of domains on the appliance before changes.
	RemoteCount int

	// ToAdd and ToRemove are the computed diff sizes.
	ToAdd    int
	ToRemove int

	// DeploySkipped explains why no deployment was requested, if none was.
	DeploySkipped string

	Actions []Action

	DryRun bool
}

// NewResult creates a new Result with the start time set to now.
func NewResult(dryRun bool) *Result {
	return &Result{
		StartTime: time.Now(),
		Actions:   make([]Action, 0),
		DryRun:    dryRun,
	}
}

// Complete marks the result as complete with the end time set to now.
func (r *Result) Complete() {
	r.EndTime = time.Now()
}

// Duration returns the total reconciliation duration.
func (r *Result) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// AddAction adds an action to the result.
func (r *Result) AddAction(action Action) {
	action.DryRun = r.DryRun
	r.Actions = append(r.Actions, action)
}

func (r *Result) count(actionType ActionType, status ActionStatus) int {
	n := 0
	for _, a := range r.Actions {
		if a.Type == actionType && a.Status == status {
			n++
		}
	}
	return n
}

// Failed returns all failed actions.
func (r *Result) Failed() []Action {
	var failed []Action
	for _, a := range r.Actions {
		if a.Status == StatusFailed {
			failed = append(failed, a)
		}
	}
	return failed
}

// AddedCount returns the number of domains added.
func (r *Result) AddedCount() int { return r.count(ActionAdd, StatusSuccess) }

// RemovedCount returns the number of domains removed.
func (r *Result) RemovedCount() int { return r.count(ActionRemove, StatusSuccess) }

// DeployedCount returns the number of servers a deployment was requested on.
func (r *Result) DeployedCount() int { return r.count(ActionDeploy, StatusSuccess) }

// FailedAdds returns the number of failed add operations.
func (r *Result) FailedAdds() int { return r.count(ActionAdd, StatusFailed) }

// FailedRemoves returns the number of failed remove operations.
func (r *Result) FailedRemoves() int { return r.count(ActionRemove, StatusFailed) }

// FailedDeployments returns the number of failed deployment requests.
func (r *Result) FailedDeployments() int { return r.count(ActionDeploy, StatusFailed) }

// HasErrors returns true if any actions failed.
func (r *Result) HasErrors() bool {
	return len(r.Failed()) > 0
}

// Summary returns a human-readable summary of the reconciliation.
func (r *Result) Summary() string {
	var sb strings.Builder

	mode := "applied"
	if r.DryRun {
		mode = "dry-run"
	}

	fmt.Fprintf(&sb, "Reconciliation of %s complete (%s) in %s\n", r.Zone, mode, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Desired domains: %d\n", r.DesiredCount)
	fmt.Fprintf(&sb, "  Remote domains: %d\n", r.RemoteCount)
	fmt.Fprintf(&sb, "  To add: %d, to remove: %d\n", r.ToAdd, r.ToRemove)
	fmt.Fprintf(&sb, "  Added: %d (failed %d)\n", r.AddedCount(), r.FailedAdds())
	fmt.Fprintf(&sb, "  Removed: %d (failed %d)\n", r.RemovedCount(), r.FailedRemoves())
	fmt.Fprintf(&sb, "  Deployments: %d (failed %d)\n", r.DeployedCount(), r.FailedDeployments())
	if r.DeploySkipped != "" {
		fmt.Fprintf(&sb, "  Deployment skipped: %s\n", r.DeploySkipped)
	}

	if r.HasErrors() {
		fmt.Fprintf(&sb, "  Failed: %d\n", len(r.Failed()))
		for _, a := range r.Failed() {
			fmt.Fprintf(&sb, "    - %s\n", a.String())
		}
	}

	return sb.String()
}
