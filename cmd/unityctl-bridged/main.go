// Command unityctl-bridged is the Bridge daemon (§2): it computes the
// project ID, starts the HTTP front end and the peer WebSocket endpoint,
// tails the editor log file, and publishes its descriptor so the CLI and
// editor-plugin can find it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/DirtybitGames/unityctl-sub000/internal/bridge"
	"github.com/DirtybitGames/unityctl-sub000/internal/config"
	"github.com/DirtybitGames/unityctl-sub000/internal/httpapi"
	"github.com/DirtybitGames/unityctl-sub000/internal/logtail"
	"github.com/DirtybitGames/unityctl-sub000/internal/peer"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional bridge.yaml configuration file")
	projectRoot := flag.String("project", "", "Absolute path to the Unity project root (defaults to the current directory)")
	flag.Parse()

	// A minimal bootstrap logger covers failures before the configured
	// level/format are known; it's replaced the moment config.Load succeeds.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := *projectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			logger.Error("determine project root", "error", err)
			os.Exit(1)
		}
		root = wd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		logger.Error("resolve project root", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	logger = cfg.NewLogger(os.Stdout)

	projectID := bridge.ComputeProjectID(absRoot)
	logger.Info("bridge daemon starting", "project_root", absRoot, "project_id", projectID)

	if err := refuseIfAlreadyRunning(absRoot); err != nil {
		logger.Error("refusing to start", "error", err)
		os.Exit(1)
	}

	session := bridge.NewSession(projectID, cfg.ReloadGrace())
	logs := bridge.NewLogPipeline(bridge.LogRingSize)
	orch := bridge.NewOrchestrator(session, logs, cfg.BridgeTimeouts())

	httpServer := httpapi.New(session, logs, orch, logger, httpapi.RateLimitConfig{
		PerAgentRPS:        50,
		PerAgentBurst:      100,
		PerAgentHeavyRPS:   2,
		PerAgentHeavyBurst: 4,
	})
	wsEndpoint := &peer.Endpoint{Session: session, Logs: logs, Logger: logger}

	mux := httpServer.Mux()
	mux.Handle("/peer", wsEndpoint)

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)))
	if err != nil {
		logger.Error("listen", "error", err)
		os.Exit(1)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if err := bridge.WriteDescriptor(absRoot, bridge.ProjectDescriptor{
		ProjectID: projectID,
		Port:      port,
		PID:       os.Getpid(),
	}); err != nil {
		logger.Error("write descriptor", "error", err)
		os.Exit(1)
	}
	logger.Info("descriptor published", "port", port, "pid", os.Getpid())

	stopTailer := make(chan struct{})
	editorLogPath := filepath.Join(absRoot, ".unityctl", "editor.log")
	tailer := logtail.New(editorLogPath, logs, logger)
	go tailer.Run(stopTailer)

	srv := &http.Server{Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		close(stopTailer)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("bridge daemon listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

// refuseIfAlreadyRunning implements §4.1's startup guard: if a descriptor
// exists, its PID is alive, and a GET /health on its stored port answers,
// another Bridge already owns this project and this process must not
// start a second one (I1: at most one live peer connection per project,
// enforced one level up at the daemon level).
func refuseIfAlreadyRunning(projectRoot string) error {
	existing, err := bridge.ReadDescriptor(projectRoot)
	if err != nil {
		return nil // missing/unreadable descriptor: nothing to conflict with
	}

	if !pidAlive(existing.PID) {
		return nil
	}

	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", existing.Port))
	if err != nil {
		return nil // stale descriptor; the PID may belong to an unrelated process
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return fmt.Errorf("a Bridge is already running for this project (pid %d, port %d)", existing.PID, existing.Port)
	}
	return nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On POSIX, FindProcess always succeeds; signal 0 probes liveness
	// without actually signaling the process.
	return proc.Signal(syscall.Signal(0)) == nil
}
