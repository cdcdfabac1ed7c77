package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scivid/scivid/internal/config"
	"github.com/scivid/scivid/internal/gemini"
	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/media"
	"github.com/scivid/scivid/internal/pipeline"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/session"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.EnvConfig
	logger *slog.Logger
	store  *session.Store
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:           "scivid",
		Short:         "Turn a research paper into a short explainer video",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.AddCommand(
		a.scriptCmd(),
		a.imagesCmd(),
		a.videosCmd(),
		a.concatCmd(),
		a.runCmd(),
		a.resumeCmd(),
		a.exportCmd(),
		a.sessionsCmd(),
		a.doctorCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()

	// serve logs to stdout like any daemon; the one-shot commands keep
	// stdout for their results.
	if cmd.Name() == "serve" {
		a.logger = logging.NewLogger(cfg.LogLevel())
	} else {
		a.logger = logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel())
	}

	store, err := session.NewStore(cfg.OutputDir(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to open output dir: %w", err)
	}
	a.store = store
	return nil
}

// newFFmpeg returns nil when ffmpeg cannot be found.
func (a *app) newFFmpeg() *media.Runner {
	ff, err := media.NewRunner(media.Config{
		FFmpegPath:    a.cfg.FFmpegPath(),
		Timeout:       a.cfg.MediaTimeout(),
		DoctorTimeout: a.cfg.DoctorTimeout(),
		Logger:        a.logger,
	})
	if err != nil {
		a.logger.Warn("ffmpeg unavailable, concat disabled", "error", err)
		return nil
	}
	return ff
}

// newPipeline wires whatever backends are configured. Stages without a
// backend fail with a clear error when they are reached.
func (a *app) newPipeline(ctx context.Context, ff *media.Runner) *pipeline.Pipeline {
	pcfg := pipeline.Config{Logger: a.logger}

	if a.cfg.APIKey() != "" {
		client, err := gemini.New(ctx, gemini.ConfigFrom(a.cfg, a.logger))
		if err != nil {
			a.logger.Warn("remote model client unavailable", "error", err)
		} else {
			pcfg.Scripter = client
			pcfg.Images = client
			pcfg.Videos = client
		}
	}
	if ff != nil {
		pcfg.FFmpeg = ff
	}
	return pipeline.New(pcfg)
}

// reporter prints progress lines to w.
func reporter(w io.Writer) progress.Func {
	return func(e progress.Event) {
		if e.Detail != "" {
			fmt.Fprintf(w, "[%s] %3d%% %s (%s)\n", e.Step, e.Progress, e.Message, e.Detail)
			return
		}
		fmt.Fprintf(w, "[%s] %3d%% %s\n", e.Step, e.Progress, e.Message)
	}
}
