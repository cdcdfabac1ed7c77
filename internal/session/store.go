package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scivid/scivid/internal/logging"
)

// Store owns the output root holding session directories.
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates the output root if needed.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid output dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Store{
		root:   abs,
		logger: logging.WithComponent(logging.OrDiscard(logger), "session"),
		now:    time.Now,
	}, nil
}

func (st *Store) Root() string {
	return st.root
}

// NewID returns session_<unix ms>_<9 random chars>.
func (st *Store) NewID() string {
	rnd := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s%d_%s", idPrefix, st.now().UnixMilli(), rnd)
}

// Create makes a new session directory with its media subdirectories.
func (st *Store) Create() (*Session, error) {
	id := st.NewID()
	s := &Session{ID: id, Dir: filepath.Join(st.root, id), CreatedAt: st.now()}
	for _, dir := range []string{ImagesDir, VideosDir, TempDir} {
		if err := os.MkdirAll(s.Path(dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create session dir: %w", err)
		}
	}
	st.logger.Info("session created", "session_id", id)
	return s, nil
}

// CreateWithSource creates a session and copies the source document into it.
func (st *Store) CreateWithSource(r io.Reader) (*Session, error) {
	s, err := st.Create()
	if err != nil {
		return nil, err
	}
	f, err := os.Create(s.Path(SourceFile))
	if err != nil {
		return nil, fmt.Errorf("failed to store source: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return nil, fmt.Errorf("failed to store source: %w", err)
	}
	return s, nil
}

// Open returns an existing session.
func (st *Store) Open(id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	dir := filepath.Join(st.root, id)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &Session{ID: id, Dir: dir, CreatedAt: createdAt(id, info.ModTime())}, nil
}

// List returns all sessions, newest first.
func (st *Store) List() ([]*Session, error) {
	entries, err := os.ReadDir(st.root)
	if err != nil {
		return nil, err
	}

	var sessions []*Session
	for _, e := range entries {
		if !e.IsDir() || ValidateID(e.Name()) != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, &Session{
			ID:        e.Name(),
			Dir:       filepath.Join(st.root, e.Name()),
			CreatedAt: createdAt(e.Name(), info.ModTime()),
		})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Remove deletes a session directory.
func (st *Store) Remove(id string) error {
	s, err := st.Open(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	st.logger.Info("session removed", "session_id", id)
	return nil
}

// Prune removes sessions created more than olderThan ago and returns the
// removed ids. A non-positive olderThan removes nothing.
func (st *Store) Prune(olderThan time.Duration) ([]string, error) {
	if olderThan <= 0 {
		return nil, nil
	}
	sessions, err := st.List()
	if err != nil {
		return nil, err
	}

	cutoff := st.now().Add(-olderThan)
	var removed []string
	for _, s := range sessions {
		if !s.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(s.Dir); err != nil {
			st.logger.Warn("failed to prune session", "session_id", s.ID, "error", err)
			continue
		}
		removed = append(removed, s.ID)
	}
	if len(removed) > 0 {
		st.logger.Info("sessions pruned", "count", len(removed))
	}
	return removed, nil
}

// createdAt reads the timestamp embedded in a session id, falling back to
// the directory mtime.
func createdAt(id string, fallback time.Time) time.Time {
	rest := strings.TrimPrefix(id, idPrefix)
	ms, _, _ := strings.Cut(rest, "_")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return fallback
	}
	return time.UnixMilli(n)
}
