package api

import (
	"time"

	"github.com/scivid/scivid/internal/jobs"
	"github.com/scivid/scivid/internal/media"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

// StatusResponse summarises the runner. State is idle, running, paused or
// error (the most recent job failed).
type StatusResponse struct {
	State       string               `json:"state"`
	LastError   string               `json:"last_error,omitempty"`
	JobsPending int                  `json:"jobs_pending"`
	ActiveJob   *JobResponse         `json:"active_job,omitempty"`
	Toolchain   *ToolchainResponse   `json:"toolchain,omitempty"`
	APIKey      APIKeyStatusResponse `json:"api_key"`
}

type ToolchainResponse struct {
	FFmpeg      media.ToolInfo `json:"ffmpeg"`
	FFprobe     media.ToolInfo `json:"ffprobe"`
	HasConcat   bool           `json:"has_concat"`
	HasProbe    bool           `json:"has_probe"`
	LastProbeAt string         `json:"last_probe_at,omitempty"`
}

type APIKeyStatusResponse struct {
	Configured bool   `json:"configured"`
	Masked     string `json:"masked,omitempty"`
}

type StyleResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type StylesResponse struct {
	Styles []StyleResponse `json:"styles"`
}

// CreateSessionRequest is the JSON form of an upload.
type CreateSessionRequest struct {
	PDFBase64 string `json:"pdf_base64"`
	FileName  string `json:"file_name"`
	Style     string `json:"style,omitempty"`
}

type SessionResponse struct {
	ID        string        `json:"id"`
	PDFName   string        `json:"pdf_name,omitempty"`
	Style     string        `json:"style"`
	Title     string        `json:"title,omitempty"`
	Stage     string        `json:"stage"`
	Jobs      []JobResponse `json:"jobs,omitempty"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
}

type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type EnqueueResponse struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
}

type JobResponse struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Stage       string `json:"stage"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	AutoAdvance bool   `json:"auto_advance"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type RunnerResponse struct {
	Paused bool `json:"paused"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SessionToResponse(s *jobs.SessionRecord) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		PDFName:   s.PDFName,
		Style:     s.Style,
		Title:     s.Title,
		Stage:     s.Stage,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		SessionID:   j.SessionID,
		Stage:       j.Stage,
		Status:      j.Status,
		Progress:    j.Progress,
		Message:     j.Message,
		Error:       j.Error,
		AutoAdvance: j.AutoAdvance,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
}

func jobsToResponse(js []*jobs.Job) []JobResponse {
	out := make([]JobResponse, len(js))
	for i, j := range js {
		out[i] = JobToResponse(j)
	}
	return out
}

func CapabilitiesToResponse(c *media.Capabilities) *ToolchainResponse {
	resp := &ToolchainResponse{
		FFmpeg:    c.FFmpeg,
		FFprobe:   c.FFprobe,
		HasConcat: c.HasConcat,
		HasProbe:  c.HasProbe,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
