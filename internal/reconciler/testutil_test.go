package reconciler

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"gitlab.bluewillows.net/root/rpzsync/pkg/bam"
	"gitlab.bluewillows.net/root/rpzsync/pkg/bam/bamtest"
)

// quietLogger returns a logger that discards all output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newAppliance starts a fake appliance and returns a logged-in client.
func newAppliance(t *testing.T) (*bamtest.Server, *bam.Client) {
	t.Helper()
	srv := bamtest.NewServer("admin", "secret")
	t.Cleanup(srv.Close)

	client := bam.NewClient(srv.BaseURL(), "admin", "secret",
		bam.WithLogger(quietLogger()),
		bam.WithPageSize(7),
	)
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return srv, client
}

func idOf(n int) bam.ID {
	return bam.ID(strconv.Itoa(n))
}

// recordingAPI is an in-memory PolicyAPI that records call order.
type recordingAPI struct {
	mu       sync.Mutex
	zone     *bam.PolicyZone
	items    map[string]bool
	servers  []bam.Server
	calls    []string
	addErr   map[string]error
	removeFn func(domain string) (bool, error)
	deployed []bam.ID
}

func newRecordingAPI(domains ...string) *recordingAPI {
	api := &recordingAPI{
		zone:   &bam.PolicyZone{ID: "10", Name: bam.DefaultZoneName},
		items:  make(map[string]bool),
		addErr: make(map[string]error),
	}
	for _, d := range domains {
		api.items[d] = true
	}
	return api
}

func (a *recordingAPI) record(call string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
}

func (a *recordingAPI) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *recordingAPI) FindConfiguration(_ context.Context, _ string) (bam.Configuration, bool, error) {
	return bam.Configuration{ID: "1", Name: "default"}, true, nil
}

func (a *recordingAPI) FindZone(_ context.Context, name string) (bam.PolicyZone, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.zone == nil || a.zone.Name != name {
		return bam.PolicyZone{}, false, nil
	}
	return *a.zone, true, nil
}

func (a *recordingAPI) CreateZone(_ context.Context, _ bam.ID, name string) (bam.PolicyZone, error) {
	a.record("create-zone " + name)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.zone = &bam.PolicyZone{ID: "10", Name: name}
	return *a.zone, nil
}

func (a *recordingAPI) ListItems(_ context.Context, _ bam.ID) ([]bam.PolicyItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []bam.PolicyItem
	i := 0
	for d := range a.items {
		i++
		out = append(out, bam.PolicyItem{ID: idOf(i), Name: d})
	}
	return out, nil
}

func (a *recordingAPI) AddItem(_ context.Context, _ bam.ID, domain string) error {
	a.record("add " + domain)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.addErr[domain]; err != nil {
		return err
	}
	a.items[domain] = true
	return nil
}

func (a *recordingAPI) RemoveItem(_ context.Context, _ bam.ID, domain string) (bool, error) {
	a.record("remove " + domain)
	if a.removeFn != nil {
		return a.removeFn(domain)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.items[domain] {
		return false, nil
	}
	delete(a.items, domain)
	return true, nil
}

func (a *recordingAPI) ListServers(_ context.Context) ([]bam.Server, error) {
	return a.servers, nil
}

func (a *recordingAPI) TriggerDeployments(_ context.Context, ids []bam.ID) []bam.DeploymentOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]bam.DeploymentOutcome, len(ids))
	for i, id := range ids {
		a.deployed = append(a.deployed, id)
		out[i] = bam.DeploymentOutcome{ServerID: id}
	}
	return out
}
