package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func getReady(t *testing.T, s *Server) (int, Readiness) {
	t.Helper()
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp Readiness
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return w.Code, resp
}

func TestServer_handleHealth(t *testing.T) {
	s := New(0)
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestServer_Ready_NothingRegistered(t *testing.T) {
	code, resp := getReady(t, New(0))

	if code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	if resp.Status != StatusReady {
		t.Errorf("expected status %q, got %q", StatusReady, resp.Status)
	}
	if resp.LastRun != nil || len(resp.Checks) != 0 {
		t.Errorf("unexpected payload %+v", resp)
	}
}

func TestServer_Ready_ChecksSortedByName(t *testing.T) {
	s := New(0)
	s.AddCheck("objectstore", func(context.Context) error { return nil })
	s.AddCheck("appliance", func(context.Context) error { return nil })

	code, resp := getReady(t, s)

	if code != http.StatusOK || resp.Status != StatusReady {
		t.Fatalf("expected 200/ready, got %d/%q", code, resp.Status)
	}
	if len(resp.Checks) != 2 || resp.Checks[0].Name != "appliance" || resp.Checks[1].Name != "objectstore" {
		t.Errorf("unexpected checks %+v", resp.Checks)
	}
}

func TestServer_Ready_FailedCheck(t *testing.T) {
	s := New(0, WithRuns(func() *LastRun {
		return &LastRun{Outcome: "partial", Finished: time.Now(), Problems: []string{"reload: exit 1"}}
	}, 0))
	s.AddCheck("objectstore", func(context.Context) error { return nil })
	s.AddCheck("appliance", func(context.Context) error { return errors.New("connection refused") })

	code, resp := getReady(t, s)

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", code)
	}
	if resp.Status != StatusNotReady {
		t.Errorf("expected status %q, got %q", StatusNotReady, resp.Status)
	}
	if resp.Checks[0].OK || resp.Checks[0].Error != "connection refused" {
		t.Errorf("unexpected appliance result %+v", resp.Checks[0])
	}
	if !resp.Checks[1].OK {
		t.Errorf("expected objectstore to pass, got %+v", resp.Checks[1])
	}
	if resp.LastRun == nil || resp.LastRun.Outcome != "partial" {
		t.Errorf("expected last run in payload, got %+v", resp.LastRun)
	}
}

func TestServer_Ready_CheckTimeout(t *testing.T) {
	s := New(0, WithTimeout(50*time.Millisecond))
	s.AddCheck("appliance", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	code, resp := getReady(t, s)

	if code != http.StatusServiceUnavailable || resp.Status != StatusNotReady {
		t.Errorf("expected 503/not_ready, got %d/%q", code, resp.Status)
	}
}

func TestServer_Ready_FirstRunPending(t *testing.T) {
	s := New(0, WithRuns(func() *LastRun { return nil }, time.Minute))

	code, resp := getReady(t, s)

	if code != http.StatusOK || resp.Status != StatusReady {
		t.Errorf("expected 200/ready, got %d/%q", code, resp.Status)
	}
	if resp.LastRun != nil {
		t.Errorf("expected no last run, got %+v", resp.LastRun)
	}
}

func TestServer_Ready_LastRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		run        LastRun
		staleAfter time.Duration
		wantStatus string
		wantStale  bool
	}{
		{
			name:       "clean run",
			run:        LastRun{Outcome: "success", Finished: now.Add(-time.Minute), Desired: 3},
			staleAfter: 10 * time.Minute,
			wantStatus: StatusReady,
		},
		{
			name: "run with problems",
			run: LastRun{
				Outcome:  "partial",
				Finished: now.Add(-time.Minute),
				Problems: []string{"appliance: 2 failed adds, 0 failed removes, 0 failed deployments"},
			},
			staleAfter: 10 * time.Minute,
			wantStatus: StatusDegraded,
		},
		{
			name:       "stale run",
			run:        LastRun{Outcome: "success", Finished: now.Add(-time.Hour)},
			staleAfter: 10 * time.Minute,
			wantStatus: StatusDegraded,
			wantStale:  true,
		},
		{
			name:       "staleness disabled",
			run:        LastRun{Outcome: "success", Finished: now.Add(-24 * time.Hour)},
			wantStatus: StatusReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := tt.run
			s := New(0, WithRuns(func() *LastRun { return &run }, tt.staleAfter))
			s.now = func() time.Time { return now }

			code, resp := getReady(t, s)

			if code != http.StatusOK {
				t.Errorf("expected status 200, got %d", code)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, resp.Status)
			}
			if resp.LastRun == nil {
				t.Fatal("expected last run in payload")
			}
			if resp.LastRun.Stale != tt.wantStale {
				t.Errorf("expected stale=%v, got %v", tt.wantStale, resp.LastRun.Stale)
			}
			if resp.LastRun.Outcome != tt.run.Outcome || len(resp.LastRun.Problems) != len(tt.run.Problems) {
				t.Errorf("unexpected last run %+v", resp.LastRun)
			}
			if run.Stale {
				t.Error("readiness must not modify the source's run")
			}
		})
	}
}

func TestServer_AddCheckReplaces(t *testing.T) {
	s := New(0)
	s.AddCheck("appliance", func(context.Context) error { return errors.New("down") })
	s.AddCheck("appliance", func(context.Context) error { return nil })

	code, resp := getReady(t, s)

	if code != http.StatusOK || len(resp.Checks) != 1 || !resp.Checks[0].OK {
		t.Errorf("expected the second check to win, got %d %+v", code, resp.Checks)
	}
}

func TestServer_Router(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "rpzsync_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := New(0, WithGatherer(reg))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "rpzsync_test_total 1") {
		t.Errorf("unexpected /metrics response %d: %s", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected /health 200, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/ready", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected POST /ready 405, got %d", resp.StatusCode)
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	s := New(0)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() before Start() = %v", err)
	}
}
