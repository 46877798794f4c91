package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartMissingBinary(t *testing.T) {
	s := New(nil)
	_, err := s.Start(Config{Bin: "definitely-not-a-real-binary-xyz", Dir: t.TempDir(), Port: 18000})
	if err == nil {
		t.Fatal("Start with missing binary succeeded, want error")
	}
	if s.State() != StateNotStarted {
		t.Errorf("state = %s, want not_started after failed launch", s.State())
	}
}

func TestStartMissingWorkingDir(t *testing.T) {
	s := New(nil)
	_, err := s.Start(Config{Bin: "sh", Dir: "/does/not/exist", Port: 18000})
	if err == nil {
		t.Fatal("Start with missing working dir succeeded, want error")
	}
}

func TestStartAndStop(t *testing.T) {
	s := New(nil)
	h, err := s.Start(Config{Bin: "sh", Args: []string{"-c", "sleep 60"}, Dir: t.TempDir(), Port: 18000})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("state = %s, want running", s.State())
	}
	if h.PID() <= 0 {
		t.Errorf("PID() = %d, want positive", h.PID())
	}

	start := time.Now()
	if err := s.Stop(h, 5*time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Stop took %v, want prompt exit on SIGTERM", elapsed)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestStopForceKillsStubbornChild(t *testing.T) {
	s := New(nil)
	// Child ignores SIGTERM, forcing the kill escalation.
	h, err := s.Start(Config{Bin: "sh", Args: []string{"-c", `trap "" TERM; sleep 60`}, Dir: t.TempDir(), Port: 18000})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	grace := 500 * time.Millisecond
	start := time.Now()
	if err := s.Stop(h, grace); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < grace {
		t.Errorf("Stop returned in %v, want at least the %v grace period", elapsed, grace)
	}
	if elapsed > grace+2*time.Second {
		t.Errorf("Stop took %v, want bounded by grace plus epsilon", elapsed)
	}
}

func TestStartTwiceFails(t *testing.T) {
	s := New(nil)
	h, err := s.Start(Config{Bin: "sh", Args: []string{"-c", "sleep 60"}, Dir: t.TempDir(), Port: 18000})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Stop(h, time.Second) })

	if _, err := s.Start(Config{Bin: "sh", Args: []string{"-c", "sleep 60"}, Dir: t.TempDir(), Port: 18001}); err == nil {
		t.Error("second Start succeeded, want error while child is running")
	}
}

func TestWaitHealthySucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(nil)
	h := &Handle{done: make(chan struct{})}
	if err := s.WaitHealthy(context.Background(), h, srv.URL, 10*time.Second); err != nil {
		t.Fatalf("WaitHealthy failed: %v", err)
	}
	if got := calls.Load(); got < 3 {
		t.Errorf("health endpoint called %d times, want at least 3", got)
	}
}

func TestWaitHealthyTimesOut(t *testing.T) {
	s := New(nil)
	h := &Handle{done: make(chan struct{})}
	start := time.Now()
	err := s.WaitHealthy(context.Background(), h, "http://127.0.0.1:1/health", 1*time.Second)
	if err == nil {
		t.Fatal("WaitHealthy against dead endpoint succeeded, want timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("WaitHealthy took %v, want bounded by timeout", elapsed)
	}
}

func TestWaitHealthyChildExit(t *testing.T) {
	s := New(nil)
	h := &Handle{done: make(chan struct{})}
	close(h.done)
	err := s.WaitHealthy(context.Background(), h, "http://127.0.0.1:1/health", 10*time.Second)
	if err == nil {
		t.Fatal("WaitHealthy with exited child succeeded, want error")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNotStarted, "not_started"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
