package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scivid/scivid/internal/config"
	"github.com/scivid/scivid/internal/jobs"
	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/script"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.WithComponent(logging.OrDiscard(cfg.Logger), "api")
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/apikey/status", apiKeyStatusHandler(cfg))
		r.Get("/styles", stylesHandler())

		r.Post("/sessions", createSessionHandler(cfg))
		r.Get("/sessions", listSessionsHandler(cfg))
		r.Get("/sessions/{id}", getSessionHandler(cfg))
		r.Delete("/sessions/{id}", deleteSessionHandler(cfg))
		r.Get("/sessions/{id}/result", sessionResultHandler(cfg))
		r.Post("/sessions/{id}/stages/{stage}", enqueueStageHandler(cfg))
		r.Post("/sessions/{id}/run", runSessionHandler(cfg))
		r.Get("/sessions/{id}/export.edl", exportTimelineHandler(cfg))

		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/runner/pause", pauseRunnerHandler(cfg))
		r.Post("/runner/resume", resumeRunnerHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/events", eventsHandler(cfg))
			r.Get("/sessions/{id}/files/*", sessionFileHandler(cfg))
			r.Head("/sessions/{id}/files/*", sessionFileHandler(cfg))
			r.Get("/output/{id}/*", sessionFileHandler(cfg))
			r.Head("/output/{id}/*", sessionFileHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recent, _ := cfg.Repository.ListJobs(r.Context(), 20)

		resp := StatusResponse{
			State:  "idle",
			APIKey: apiKeyStatus(cfg.APIKey),
		}
		for _, j := range recent {
			if j.Status == jobs.StatusPending {
				resp.JobsPending++
			}
		}
		// ListJobs is newest first; only the latest finished job decides
		// whether the runner is in an error state.
		for _, j := range recent {
			if j.Status == jobs.StatusCompleted {
				break
			}
			if j.Status == jobs.StatusFailed {
				resp.State = "error"
				resp.LastError = j.Error
				break
			}
		}

		if cfg.Runner != nil {
			if active := cfg.Runner.ActiveJob(); active != nil {
				jr := JobToResponse(active)
				resp.ActiveJob = &jr
				resp.State = "running"
			}
			if cfg.Runner.IsPaused() {
				resp.State = "paused"
			}
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Toolchain = CapabilitiesToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func apiKeyStatus(key string) APIKeyStatusResponse {
	if key == "" {
		return APIKeyStatusResponse{}
	}
	return APIKeyStatusResponse{Configured: true, Masked: logging.SanitizeToken(key)}
}

func apiKeyStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, apiKeyStatus(cfg.APIKey))
	}
}

func stylesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StylesResponse{Styles: make([]StyleResponse, len(script.Styles))}
		for i, s := range script.Styles {
			resp.Styles[i] = StyleResponse{ID: string(s), DisplayName: s.DisplayName()}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cfg.Service.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, JobsResponse{Jobs: jobsToResponse(list)})
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Service.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func pauseRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: cfg.Runner.IsPaused()})
	}
}

func resumeRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not available", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, RunnerResponse{Paused: cfg.Runner.IsPaused()})
	}
}

func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	if cfg.Hub == nil {
		return func(w http.ResponseWriter, r *http.Request) {
			WriteError(w, http.StatusServiceUnavailable, "event stream not available", "UNAVAILABLE")
		}
	}
	return progress.Handler(cfg.Hub, IsAllowedOrigin, cfg.Logger)
}
