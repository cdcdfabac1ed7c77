// Package api is the loopback HTTP surface of the background service:
// session uploads, stage enqueueing, job inspection, media playback and a
// websocket of progress events.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/scivid/scivid/internal/jobs"
	"github.com/scivid/scivid/internal/media"
	"github.com/scivid/scivid/internal/playback"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/session"
)

// RunnerControl is the part of the job runner the API drives.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
	ActiveJob() *jobs.Job
}

// TimelineRenderer renders a session's clips as an EDL.
type TimelineRenderer interface {
	Timeline(ctx context.Context, sess *session.Session) (string, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Service        *jobs.Service
	Repository     jobs.Repository
	Runner         RunnerControl
	Timeline       TimelineRenderer
	Hub            *progress.Hub
	Doctor         *media.CachedDoctor
	PlaybackServer playback.Service
	APIKey         string
	Logger         *slog.Logger
	StartTime      time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
