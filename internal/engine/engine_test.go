package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.bluewillows.net/root/rpzsync/internal/metrics"
	"gitlab.bluewillows.net/root/rpzsync/internal/objectstore"
	"gitlab.bluewillows.net/root/rpzsync/internal/reconciler"
	"gitlab.bluewillows.net/root/rpzsync/internal/zonefile"
	"gitlab.bluewillows.net/root/rpzsync/pkg/bam"
	"gitlab.bluewillows.net/root/rpzsync/pkg/bam/bamtest"
)

const blocklist = "bad.example.com\n\nevil.example.net\n bad.example.com \n"

var src = Source{Bucket: "blocklists", Key: "rpz/domains.txt"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	data []byte
	err  error
}

func (f *fakeStore) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	if f.err != nil {
		return nil, &objectstore.FetchError{Bucket: bucket, Key: key, Err: f.err}
	}
	return f.data, nil
}

type fakeReloader struct {
	calls int
	err   error
}

func (r *fakeReloader) Reload(context.Context) error {
	r.calls++
	return r.err
}

func (r *fakeReloader) String() string { return "fake" }

type fakeSession struct {
	connectErr error
	connects   int
	closes     int
}

func (s *fakeSession) Connect(context.Context) error {
	s.connects++
	return s.connectErr
}

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}

type brokenFS struct{}

func (brokenFS) ReadFile(string) ([]byte, error) { return nil, os.ErrNotExist }
func (brokenFS) WriteFile(string, []byte, os.FileMode) error {
	return errors.New("read-only file system")
}

type fixture struct {
	appliance *bamtest.Server
	client    *bam.Client
	serverID  int
	zonePath  string
	writer    *zonefile.Writer
	reloader  *fakeReloader
}

func newFixture(t *testing.T, password string) *fixture {
	t.Helper()
	srv := bamtest.NewServer("admin", "secret")
	t.Cleanup(srv.Close)

	f := &fixture{
		appliance: srv,
		client:    bam.NewClient(srv.BaseURL(), "admin", password, bam.WithLogger(quietLogger())),
		serverID:  srv.AddServer("ns1"),
		zonePath:  filepath.Join(t.TempDir(), "rpz.db"),
		reloader:  &fakeReloader{},
	}
	f.writer = zonefile.NewWriter(zonefile.LocalFileSystem{}, f.zonePath, zonefile.WithLogger(quietLogger()))
	return f
}

func (f *fixture) engine(store objectstore.Getter, opts ...Option) *Engine {
	cfg := reconciler.DefaultConfig()
	cfg.TargetServers = "ns1"
	base := []Option{
		WithLogger(quietLogger()),
		WithZoneFile(f.writer, f.reloader),
		WithAppliance(f.client, cfg),
	}
	return New(store, src, append(base, opts...)...)
}

func TestRunOnce_BothTargets(t *testing.T) {
	f := newFixture(t, "secret")
	e := f.engine(&fakeStore{data: []byte(blocklist)})

	report, err := e.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, report.Outcome())
	assert.Empty(t, report.Problems())
	assert.Equal(t, 2, report.Desired)

	zoneID := f.appliance.ZoneID(bam.DefaultZoneName)
	require.NotZero(t, zoneID, "zone should have been created")
	assert.Equal(t, []string{"bad.example.com", "evil.example.net"}, f.appliance.Domains(zoneID))
	assert.Equal(t, []int{f.serverID}, f.appliance.Deployments())

	data, err := os.ReadFile(f.zonePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bad.example.com")
	assert.Contains(t, string(data), "evil.example.net")

	require.NotNil(t, report.ZoneFile)
	assert.True(t, report.ZoneFile.Reloaded)
	assert.Equal(t, 1, f.reloader.calls)
	assert.Same(t, report, e.LastReport())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DomainsDesired))
}

func TestRunOnce_SecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t, "secret")
	e := f.engine(&fakeStore{data: []byte(blocklist)})

	_, err := e.RunOnce(context.Background())
	require.NoError(t, err)

	report, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Appliance)
	assert.Zero(t, report.Appliance.ToAdd)
	assert.Zero(t, report.Appliance.ToRemove)
	assert.Len(t, f.appliance.Deployments(), 1, "no redeploy without changes")
}

func TestRunOnce_FetchErrorTouchesNothing(t *testing.T) {
	f := newFixture(t, "secret")
	zoneID := f.appliance.AddZone(bam.DefaultZoneName)
	f.appliance.SeedItems(zoneID, "keep.example.com")
	require.NoError(t, os.WriteFile(f.zonePath, []byte("previous"), 0o644))

	before := testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(OutcomeFetchError))

	e := f.engine(&fakeStore{err: errors.New("AccessDenied")})
	report, err := e.RunOnce(context.Background())

	require.Error(t, err)
	assert.True(t, objectstore.IsFetchError(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, OutcomeFetchError, report.Outcome())
	assert.Len(t, report.Problems(), 1)

	assert.Empty(t, f.appliance.Requests(), "appliance must not be contacted")
	assert.Equal(t, []string{"keep.example.com"}, f.appliance.Domains(zoneID))
	data, _ := os.ReadFile(f.zonePath)
	assert.Equal(t, "previous", string(data))
	assert.Zero(t, f.reloader.calls)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(OutcomeFetchError)))
}

func TestRunOnce_EmptyBlocklistIsNotAFetchError(t *testing.T) {
	f := newFixture(t, "secret")
	zoneID := f.appliance.AddZone(bam.DefaultZoneName)
	f.appliance.SeedItems(zoneID, "old.example.com")

	e := f.engine(&fakeStore{data: []byte("\n\n")})
	report, err := e.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Desired)
	assert.Empty(t, f.appliance.Domains(zoneID))
	info, err := zonefile.Validate(mustRead(t, f.zonePath), "")
	require.NoError(t, err)
	assert.Zero(t, info.Records)
}

func TestRunOnce_AuthFailureIsFatalButZoneFileStillWritten(t *testing.T) {
	f := newFixture(t, "wrong")
	e := f.engine(&fakeStore{data: []byte(blocklist)})

	report, err := e.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	var authErr *bam.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, OutcomeAuthError, report.Outcome())
	assert.Nil(t, report.Appliance)

	assert.Contains(t, string(mustRead(t, f.zonePath)), "bad.example.com")
	assert.Empty(t, f.appliance.Zones())
}

func TestRunOnce_ZoneFailureDoesNotStopAppliance(t *testing.T) {
	f := newFixture(t, "secret")
	f.writer = zonefile.NewWriter(brokenFS{}, "/zones/rpz.db", zonefile.WithLogger(quietLogger()))
	e := f.engine(&fakeStore{data: []byte(blocklist)})

	report, err := e.RunOnce(context.Background())
	require.NoError(t, err, "zone failures are not fatal")

	assert.Equal(t, OutcomeError, report.Outcome())
	require.NotNil(t, report.ZoneFile)
	assert.ErrorContains(t, report.ZoneFile.Err, "read-only")
	assert.Zero(t, f.reloader.calls)

	zoneID := f.appliance.ZoneID(bam.DefaultZoneName)
	assert.Equal(t, []string{"bad.example.com", "evil.example.net"}, f.appliance.Domains(zoneID))
}

func TestRunOnce_ReloadFailureIsPartial(t *testing.T) {
	f := newFixture(t, "secret")
	f.reloader.err = errors.New("rndc: connection refused")
	e := f.engine(&fakeStore{data: []byte(blocklist)})

	report, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, report.Outcome())
	assert.False(t, report.ZoneFile.Reloaded)

	problems := strings.Join(report.Problems(), "\n")
	assert.Contains(t, problems, "connection refused")
}

func TestRunOnce_SessionLifecycle(t *testing.T) {
	f := newFixture(t, "secret")
	session := &fakeSession{}
	e := New(&fakeStore{data: []byte(blocklist)}, src,
		WithLogger(quietLogger()),
		WithZoneFile(f.writer, nil),
		WithZoneSession(session),
	)

	report, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, session.connects)
	assert.Equal(t, 1, session.closes)
	assert.Nil(t, report.Appliance, "appliance target disabled")

	session.connectErr = errors.New("no route to host")
	report, err = e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.ErrorContains(t, report.ZoneFile.Err, "no route to host")
	assert.Equal(t, 1, session.closes, "failed connect is not closed")
}

func TestRunOnce_DryRun(t *testing.T) {
	f := newFixture(t, "secret")
	f.writer = zonefile.NewWriter(zonefile.LocalFileSystem{}, f.zonePath,
		zonefile.WithLogger(quietLogger()), zonefile.WithDryRun(true))

	cfg := reconciler.DefaultConfig()
	cfg.DryRun = true
	e := New(&fakeStore{data: []byte(blocklist)}, src,
		WithLogger(quietLogger()),
		WithZoneFile(f.writer, f.reloader),
		WithAppliance(f.client, cfg),
	)

	report, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.ZoneFile.Outcome.DryRun)
	assert.Zero(t, f.reloader.calls)
	assert.Equal(t, 2, report.Appliance.ToAdd)
	assert.Empty(t, f.appliance.Zones(), "dry run must not create the zone")
	assert.Empty(t, f.appliance.Deployments())

	_, statErr := os.Stat(f.zonePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReport_Outcome(t *testing.T) {
	failed := reconciler.NewResult(false)
	failed.AddAction(reconciler.Action{Type: reconciler.ActionAdd, Status: reconciler.StatusFailed, Target: "x"})

	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{"clean", Report{}, OutcomeSuccess},
		{"fetch", Report{FetchErr: errors.New("x")}, OutcomeFetchError},
		{"auth", Report{ApplianceErr: &bam.AuthError{StatusCode: 401}}, OutcomeAuthError},
		{"appliance aborted", Report{ApplianceErr: errors.New("listing failed")}, OutcomeError},
		{"zone failed", Report{ZoneFile: &ZoneFileReport{Err: errors.New("x")}}, OutcomeError},
		{"item failures", Report{Appliance: failed}, OutcomePartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.Outcome())
		})
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

var (
	_ ZoneWriter = (*zonefile.Writer)(nil)
	_ Appliance  = (*bam.Client)(nil)
)
