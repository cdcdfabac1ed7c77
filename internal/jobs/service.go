package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/scivid/scivid/internal/document"
	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/pipeline"
	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrJobInProgress   = errors.New("session already has a pending or running job")
	ErrSessionComplete = errors.New("session has already completed every stage")
)

// Service records sessions and enqueues stage jobs.
type Service struct {
	repo   Repository
	store  *session.Store
	logger *slog.Logger
}

func NewService(repo Repository, store *session.Store, logger *slog.Logger) *Service {
	return &Service{repo: repo, store: store, logger: logging.WithComponent(logging.OrDiscard(logger), "jobs")}
}

// CreateSession stores the uploaded PDF in a new session directory and
// records it. The upload is rejected, and the directory removed, when it
// is not a readable PDF.
func (s *Service) CreateSession(ctx context.Context, pdfName string, pdf io.Reader, style script.Style) (*SessionRecord, error) {
	if style == "" {
		style = script.DefaultStyle
	}
	if !style.Valid() {
		return nil, fmt.Errorf("unknown style %q", style)
	}

	sess, err := s.store.CreateWithSource(io.LimitReader(pdf, document.MaxSize+1))
	if err != nil {
		return nil, err
	}
	if _, err := document.Inspect(sess.Path(session.SourceFile)); err != nil {
		s.store.Remove(sess.ID)
		return nil, err
	}

	now := time.Now()
	rec := &SessionRecord{
		ID:        sess.ID,
		PDFName:   pdfName,
		Style:     string(style),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, rec); err != nil {
		s.store.Remove(sess.ID)
		return nil, err
	}
	s.logger.Info("session created", "session_id", sess.ID, "pdf", pdfName, "style", style)
	return rec, nil
}

// GetSession returns the record, or ErrSessionNotFound.
func (s *Service) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	if err := session.ValidateID(id); err != nil {
		return nil, ErrSessionNotFound
	}
	rec, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

func (s *Service) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	return s.repo.ListSessions(ctx, limit)
}

// OpenSession returns the session directory behind a record.
func (s *Service) OpenSession(ctx context.Context, id string) (*session.Session, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}
	sess, err := s.store.Open(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// DeleteSession removes the directory and the record. Sessions with open
// jobs cannot be deleted.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.GetSession(ctx, id); err != nil {
		return err
	}
	if open, err := s.hasOpenJob(ctx, id); err != nil {
		return err
	} else if open {
		return ErrJobInProgress
	}
	if err := s.store.Remove(id); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return s.repo.DeleteSession(ctx, id)
}

// ForgetSessions drops the records of sessions whose directories are gone.
func (s *Service) ForgetSessions(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.repo.DeleteSession(ctx, id); err != nil {
			s.logger.Warn("failed to delete session record", "session_id", id, "error", err)
		}
	}
}

// EnqueueStage queues a single stage of a session.
func (s *Service) EnqueueStage(ctx context.Context, sessionID string, st pipeline.Stage) (*Job, error) {
	if !st.Valid() {
		return nil, fmt.Errorf("unknown stage %q", st)
	}
	return s.enqueue(ctx, sessionID, st, false)
}

// EnqueueRun queues every remaining stage of a session, starting after the
// last completed one.
func (s *Service) EnqueueRun(ctx context.Context, sessionID string) (*Job, error) {
	sess, err := s.OpenSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	from, done := pipeline.ResumePoint(sess)
	if done {
		return nil, ErrSessionComplete
	}
	return s.enqueue(ctx, sessionID, from, true)
}

func (s *Service) enqueue(ctx context.Context, sessionID string, st pipeline.Stage, autoAdvance bool) (*Job, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if open, err := s.hasOpenJob(ctx, sessionID); err != nil {
		return nil, err
	} else if open {
		return nil, ErrJobInProgress
	}
	return s.createJob(ctx, sessionID, st, autoAdvance)
}

func (s *Service) createJob(ctx context.Context, sessionID string, st pipeline.Stage, autoAdvance bool) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:          NewID(),
		SessionID:   sessionID,
		Stage:       string(st),
		Status:      StatusPending,
		AutoAdvance: autoAdvance,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job_id", job.ID, "session_id", sessionID, "stage", st, "auto_advance", autoAdvance)
	return job, nil
}

func (s *Service) hasOpenJob(ctx context.Context, sessionID string) (bool, error) {
	jobs, err := s.repo.ListSessionJobs(ctx, sessionID)
	if err != nil {
		return false, err
	}
	for _, j := range jobs {
		if j.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) SessionJobs(ctx context.Context, sessionID string) ([]*Job, error) {
	return s.repo.ListSessionJobs(ctx, sessionID)
}
