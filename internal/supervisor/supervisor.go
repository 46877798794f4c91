// Package supervisor owns the lifecycle of the embedded backend process:
// launch, health polling, and grace-then-kill termination.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State tracks the supervised process lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// healthInterval is the fixed poll interval used by WaitHealthy.
const healthInterval = 700 * time.Millisecond

// Config describes the child process to launch.
type Config struct {
	Bin  string
	Args []string
	Dir  string
	Port int // injected into the child environment as PORT
}

// Handle wraps a running child process. Exactly one live Handle exists
// at a time; it is owned by the Supervisor that created it.
type Handle struct {
	cmd     *exec.Cmd
	port    int
	done    chan struct{}
	waitErr error
}

// Done is closed once the child process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// PID returns the child process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Port returns the port the child was told to listen on.
func (h *Handle) Port() int { return h.port }

// Supervisor manages at most one child process.
type Supervisor struct {
	mu     sync.Mutex
	state  State
	handle *Handle
	logger *slog.Logger
}

func New(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{state: StateNotStarted, logger: logger}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the configured binary with PORT injected into its
// environment. The child inherits this process's stdout and stderr so its
// logs land next to the gateway's. A launch failure is returned to the
// caller, which treats it as fatal.
func (s *Supervisor) Start(cfg Config) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNotStarted && s.state != StateStopped {
		return nil, fmt.Errorf("child already %s", s.state)
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("working directory %s: %w", cfg.Dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", cfg.Dir)
	}
	bin, err := exec.LookPath(cfg.Bin)
	if err != nil {
		return nil, fmt.Errorf("resolving child binary %s: %w", cfg.Bin, err)
	}

	cmd := exec.Command(bin, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", cfg.Port))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting child process: %w", err)
	}

	h := &Handle{
		cmd:  cmd,
		port: cfg.Port,
		done: make(chan struct{}),
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	s.state = StateRunning
	s.handle = h
	s.logger.Info("child process started", "pid", cmd.Process.Pid, "bin", bin, "port", cfg.Port)
	return h, nil
}

// WaitHealthy polls url every 700ms until it answers with a 2xx status,
// the child exits, the timeout elapses, or ctx is cancelled. A child that
// never comes up produces an explicit error instead of an indefinite hang.
func (s *Supervisor) WaitHealthy(ctx context.Context, h *Handle, url string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(healthInterval)
	defer tick.Stop()

	for {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				s.logger.Info("child process healthy", "url", url)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Done():
			if h.waitErr != nil {
				return fmt.Errorf("child process exited before becoming healthy: %w", h.waitErr)
			}
			return errors.New("child process exited before becoming healthy")
		case <-deadline.C:
			return fmt.Errorf("child health check timed out after %s polling %s", timeout, url)
		case <-tick.C:
		}
	}
}

// Stop sends SIGTERM and waits up to grace for the child to exit, then
// escalates to SIGKILL. The timed race against the exit channel guarantees
// Stop returns within grace plus a small epsilon regardless of child
// behavior.
func (s *Supervisor) Stop(h *Handle, grace time.Duration) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("child is %s, not running", s.state)
	}
	s.state = StateStopping
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = StateStopped
		s.handle = nil
		s.mu.Unlock()
	}()

	select {
	case <-h.done:
		// Already exited; nothing to signal.
		s.logger.Info("child process already exited", "pid", h.PID())
		return nil
	default:
	}

	s.logger.Info("stopping child process", "pid", h.PID(), "grace", grace)
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signaling child process: %w", err)
	}

	select {
	case <-h.done:
		s.logger.Info("child process exited", "pid", h.PID())
		return nil
	case <-time.After(grace):
		s.logger.Warn("child process did not exit within grace period, killing", "pid", h.PID())
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("killing child process: %w", err)
		}
		<-h.done
		return nil
	}
}
