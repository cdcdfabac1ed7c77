package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/pipeline"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
)

const DefaultPollInterval = 2 * time.Second

// StageRunner executes one pipeline stage; *pipeline.Pipeline implements it.
type StageRunner interface {
	RunStage(ctx context.Context, sess *session.Session, st pipeline.Stage, opts pipeline.Options) error
}

// Runner polls for pending jobs and runs them one at a time.
type Runner struct {
	service      *Service
	repo         Repository
	stages       StageRunner
	hub          *progress.Hub
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool

	mu     sync.Mutex
	active *Job
}

func NewRunner(service *Service, repo Repository, stages StageRunner, hub *progress.Hub, logger *slog.Logger) *Runner {
	return &Runner{
		service:      service,
		repo:         repo,
		stages:       stages,
		hub:          hub,
		logger:       logging.WithComponent(logging.OrDiscard(logger), "runner"),
		pollInterval: DefaultPollInterval,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveJob returns a snapshot of the running job, nil when idle.
func (r *Runner) ActiveJob() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	j := *r.active
	return &j
}

func (r *Runner) setActive(j *Job) {
	r.mu.Lock()
	r.active = j
	r.mu.Unlock()
}

func (r *Runner) processNextJob(ctx context.Context) {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}
	r.runJob(ctx, jobs[0])
}

func (r *Runner) runJob(ctx context.Context, job *Job) {
	logger := logging.WithSessionID(logging.WithJobID(r.logger, job.ID), job.SessionID)
	logger.Info("processing job", "stage", job.Stage)

	st, err := pipeline.ParseStage(job.Stage)
	if err != nil {
		r.fail(ctx, job, err)
		return
	}
	rec, err := r.service.GetSession(ctx, job.SessionID)
	if err != nil {
		r.fail(ctx, job, err)
		return
	}
	sess, err := r.service.OpenSession(ctx, job.SessionID)
	if err != nil {
		r.fail(ctx, job, err)
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, StatusRunning, "")
	job.Status = StatusRunning
	r.setActive(job)
	defer r.setActive(nil)

	opts := pipeline.Options{
		Style:       script.Style(rec.Style),
		DisplayName: rec.PDFName,
		Report:      r.reporter(ctx, job),
	}
	if err := r.stages.RunStage(ctx, sess, st, opts); err != nil {
		logger.Error("job failed", "stage", st, "error", err)
		r.fail(ctx, job, err)
		return
	}

	r.repo.UpdateJobProgress(ctx, job.ID, 100, "completed")
	r.repo.UpdateJobStatus(ctx, job.ID, StatusCompleted, "")
	r.repo.UpdateSessionStage(ctx, job.SessionID, string(st), scriptTitle(sess, st))
	logger.Info("job completed", "stage", st)

	if next, ok := st.Next(); ok && job.AutoAdvance {
		if _, err := r.service.createJob(ctx, job.SessionID, next, true); err != nil {
			logger.Error("failed to enqueue next stage", "stage", next, "error", err)
		}
	}
}

// reporter forwards stage progress to the hub and the job row.
func (r *Runner) reporter(ctx context.Context, job *Job) progress.Func {
	return func(e progress.Event) {
		e.JobID = job.ID
		r.mu.Lock()
		if r.active != nil && r.active.ID == job.ID {
			r.active.Progress = e.Progress
			r.active.Message = e.Message
		}
		r.mu.Unlock()
		if err := r.repo.UpdateJobProgress(ctx, job.ID, e.Progress, e.Message); err != nil {
			r.logger.Warn("failed to record job progress", "job_id", job.ID, "error", err)
		}
		if r.hub != nil {
			r.hub.Publish(e)
		}
	}
}

func (r *Runner) fail(ctx context.Context, job *Job, err error) {
	r.repo.UpdateJobStatus(ctx, job.ID, StatusFailed, err.Error())
	if r.hub != nil {
		r.hub.Publish(progress.Event{
			SessionID: job.SessionID,
			JobID:     job.ID,
			Step:      job.Stage,
			Message:   fmt.Sprintf("%s failed", job.Stage),
			Detail:    err.Error(),
			Time:      time.Now(),
		})
	}
}

func scriptTitle(sess *session.Session, st pipeline.Stage) string {
	if st != pipeline.StageScript {
		return ""
	}
	var sc script.Script
	if err := sess.LoadJSON(session.ScriptFile, &sc); err != nil {
		return ""
	}
	return sc.Title
}
