// Package jobs runs pipeline stages in the background for the HTTP API.
// Sessions and jobs are recorded in sqlite; a ticker-driven runner picks up
// pending jobs one at a time.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job runs one pipeline stage of one session. With AutoAdvance set, a
// successful job enqueues the next stage.
type Job struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Stage       string    `json:"stage"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message,omitempty"`
	Error       string    `json:"error,omitempty"`
	AutoAdvance bool      `json:"auto_advance"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Open reports whether the job is waiting or running.
func (j *Job) Open() bool {
	return j.Status == StatusPending || j.Status == StatusRunning
}

// SessionRecord is the indexed view of a session directory.
type SessionRecord struct {
	ID        string    `json:"id"`
	PDFName   string    `json:"pdf_name,omitempty"`
	Style     string    `json:"style"`
	Title     string    `json:"title,omitempty"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}
