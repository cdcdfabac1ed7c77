package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/scivid/scivid/internal/api"
	"github.com/scivid/scivid/internal/config"
	"github.com/scivid/scivid/internal/db"
	"github.com/scivid/scivid/internal/jobs"
	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/media"
	"github.com/scivid/scivid/internal/playback"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/session"
	"github.com/scivid/scivid/internal/ui"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background job service and local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	startTime := time.Now()
	cfg, logger := a.cfg, a.logger

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	logger.Info("starting scivid service", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(parent, repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	apiKey := "not set"
	if cfg.APIKey() != "" {
		apiKey = logging.SanitizeToken(cfg.APIKey())
	}
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                     SCIVID v%-29s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  API Key:    %-45s ║\n", apiKey)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var doctor *media.CachedDoctor
	ff := a.newFFmpeg()
	if ff != nil {
		doctor = media.NewCachedDoctor(ff, logger)
		initCtx, initCancel := context.WithTimeout(ctx, cfg.DoctorTimeout())
		if caps, err := doctor.Refresh(initCtx); err != nil {
			logger.Warn("initial doctor probe failed", "error", err)
		} else {
			logger.Info("toolchain detected", "ffmpeg", caps.FFmpeg.Version, "probe", caps.HasProbe)
		}
		initCancel()
	}
	if cfg.APIKey() == "" {
		logger.Warn("remote stages disabled until the API key is set", "env", config.EnvAPIKey)
	}

	hub := progress.NewHub()
	pipe := a.newPipeline(ctx, ff)
	service := jobs.NewService(repo, a.store, logger)
	runner := jobs.NewRunner(service, repo, pipe, hub, logger)
	waitRunner := goWait(func() { runner.Start(ctx) })
	defer func() {
		cancel()
		if !waitRunner(runnerStopTimeout) {
			logger.Warn("job runner did not stop in time", "timeout", runnerStopTimeout)
		}
	}()

	if retention := cfg.SessionRetention(); retention > 0 {
		pruner, err := session.NewPruner(a.store, cfg.PruneSchedule(), retention)
		if err != nil {
			return err
		}
		pruner.OnRemoved = func(ids []string) {
			service.ForgetSessions(context.Background(), ids)
		}
		pruner.Start()
		defer pruner.Stop()
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Service:        service,
		Repository:     repo,
		Runner:         runner,
		Timeline:       pipe,
		Hub:            hub,
		Doctor:         doctor,
		PlaybackServer: playback.NewServer(logger),
		APIKey:         cfg.APIKey(),
		Logger:         logger,
		StartTime:      startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		select {
		case <-parent.Done():
			logger.Info("received shutdown signal")
			quit()
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner: runner,
			Hub:    hub,
			Logger: logger,
			CountSessions: func() int {
				recs, err := service.ListSessions(ctx, 1000)
				if err != nil {
					return 0
				}
				return len(recs)
			},
			OnOpenOutput: func() error {
				return openFolder(a.store.Root())
			},
			OnQuit: quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// runnerStopTimeout bounds how long shutdown waits for the active stage to
// observe cancellation before the database is closed.
const runnerStopTimeout = 30 * time.Second

// goWait runs fn in a goroutine. The returned function blocks until fn has
// returned or timeout elapses, reporting whether fn returned.
func goWait(fn func()) func(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return func(timeout time.Duration) bool {
		select {
		case <-done:
			return true
		case <-time.After(timeout):
			return false
		}
	}
}

func ensureAuthToken(ctx context.Context, repo jobs.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}

func openFolder(dir string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", dir)
	case "windows":
		cmd = exec.Command("explorer", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}
	return cmd.Start()
}
