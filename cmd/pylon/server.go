package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pylonhq/pylon/internal/api"
	"github.com/pylonhq/pylon/internal/config"
	"github.com/pylonhq/pylon/internal/job"
	"github.com/pylonhq/pylon/internal/proxy"
	"github.com/pylonhq/pylon/internal/render"
	"github.com/pylonhq/pylon/internal/session"
	"github.com/pylonhq/pylon/internal/supervisor"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pylon gateway (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pylon gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pylon gateway status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(root string) string {
	return filepath.Join(root, "pylon.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "pylon version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint before claiming
	// the PID file.
	pidPath := pidFilePath(cfg.Child.ProjectRoot)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("pylon is already running (PID %d)", pid)
			return fmt.Errorf("gateway already running (PID %d)", pid)
		}
		printWarning("pylon is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("gateway already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Launch and health-check the embedded backend. Both failures are
	// fatal: a backend that will not come up is a broken deployment, not
	// something to limp past.
	sup := supervisor.New(slog.Default())
	var child *supervisor.Handle
	if cfg.Child.Embedded {
		child, err = sup.Start(supervisor.Config{
			Bin:  cfg.Child.Bin,
			Args: cfg.Child.Args,
			Dir:  cfg.Child.ProjectRoot,
			Port: cfg.Child.InternalPort,
		})
		if err != nil {
			return fmt.Errorf("starting embedded backend: %w", err)
		}
		if err := sup.WaitHealthy(ctx, child, cfg.Child.HealthURL(), cfg.Child.HealthTimeout); err != nil {
			if stopErr := sup.Stop(child, cfg.Child.StopGrace); stopErr != nil {
				slog.Warn("stopping unhealthy backend failed", "error", stopErr)
			}
			return fmt.Errorf("embedded backend health check: %w", err)
		}
	}

	// Build the in-memory stores. Job completion lands on the session's
	// images sequence through the injected callback.
	sessions := session.NewStore(slog.Default())
	jobs := job.NewStore(nil, sessions.AppendImage, slog.Default())

	idx, err := render.NewIndex(cfg.Outputs.Dir, slog.Default())
	if err != nil {
		return fmt.Errorf("preparing outputs index: %w", err)
	}

	// Catch-all: proxy when there is an upstream to forward to, plain 404
	// otherwise.
	var fallback http.Handler
	mode := "standalone"
	if cfg.Child.Embedded || cfg.Server.UpstreamExplicit {
		router, err := proxy.New(cfg.Server.UpstreamURL, slog.Default())
		if err != nil {
			return fmt.Errorf("configuring upstream proxy: %w", err)
		}
		fallback = router
		mode = "embedded"
		if !cfg.Child.Embedded {
			mode = "external-upstream"
		}
	} else {
		fallback = api.StandaloneFallback()
	}

	handler := api.NewHandler(api.Deps{
		Sessions: sessions,
		Jobs:     jobs,
		Render:   idx,
		Fallback: fallback,
		Logger:   slog.Default(),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	slog.Info("pylon listening", "addr", addr, "mode", mode, "outputs", cfg.Outputs.Dir)
	err = serveUntilShutdown(ctx, srv, idx, cfg.Server.ShutdownGrace)

	if child != nil {
		if stopErr := sup.Stop(child, cfg.Child.StopGrace); stopErr != nil {
			slog.Warn("stopping embedded backend failed", "error", stopErr)
		}
	}

	return err
}

// serveUntilShutdown runs the HTTP server and the outputs watcher until
// ctx is cancelled or either one fails, then drains the server within
// grace. Returns once both loops have stopped, so the caller's total
// shutdown time is bounded by grace plus the child stop grace.
func serveUntilShutdown(ctx context.Context, srv *http.Server, idx *render.Index, grace time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return idx.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "grace", grace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// Logged, not fatal: process exit must not block on stragglers.
			slog.Warn("server shutdown incomplete", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Child.ProjectRoot)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("pylon is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pylon (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to pylon (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}

	// Gateway health.
	gatewayURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	resp, err := client.Get(gatewayURL + "/health")
	if err != nil {
		printStatus("Gateway", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Gateway", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Gateway", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Upstream backend health.
	upstreamResp, err := client.Get(strings.TrimRight(cfg.Server.UpstreamURL, "/") + "/health")
	if err != nil {
		printStatus("Upstream", "not reachable at %s", cfg.Server.UpstreamURL)
	} else {
		upstreamResp.Body.Close()
		printStatus("Upstream", "healthy at %s", cfg.Server.UpstreamURL)
	}

	if cfg.Child.Embedded {
		printStatus("Mode", "embedded (%s %s)", cfg.Child.Bin, strings.Join(cfg.Child.Args, " "))
	} else {
		printStatus("Mode", "standalone")
	}
	printStatus("Outputs dir", "%s", cfg.Outputs.Dir)
	printStatus("Project root", "%s", cfg.Child.ProjectRoot)
	return nil
}
