// Package session manages per-job directories. Each pipeline stage reads
// the previous stage's JSON from the session directory and writes its own
// output, plus any media, next to it.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Stage file names.
const (
	ScriptFile           = "script.json"
	ScriptWithImagesFile = "scriptWithImages.json"
	PreviewFile          = "scriptWithImages.preview.json"
	FinalOutputFile      = "finalOutput.json"
	ConcatResultFile     = "concatResult.json"
	FinalVideoFile       = "final.mp4"
	PosterFile           = "poster.jpg"
	TimelineFile         = "timeline.edl"
	SourceFile           = "source.pdf"

	ImagesDir = "images"
	VideosDir = "videos"
	TempDir   = "temp"

	idPrefix = "session_"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrInvalidID = errors.New("invalid session id")
	// ErrMissingInput is returned when a stage's input file is absent.
	ErrMissingInput = errors.New("missing stage input")
)

// Session is one job directory.
type Session struct {
	ID        string    `json:"id"`
	Dir       string    `json:"dir"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateID rejects ids that could escape the output root.
func ValidateID(id string) error {
	if !strings.HasPrefix(id, idPrefix) || len(id) == len(idPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Path joins elem onto the session directory.
func (s *Session) Path(elem ...string) string {
	return filepath.Join(append([]string{s.Dir}, elem...)...)
}

// ImagePath is where the anchor image for a scene is written.
func (s *Session) ImagePath(sceneID int) string {
	return s.Path(ImagesDir, fmt.Sprintf("scene_%d.png", sceneID))
}

// VideoPath is where the video of a group ending at endSceneID is written.
func (s *Session) VideoPath(endSceneID int) string {
	return s.Path(VideosDir, fmt.Sprintf("video_%d.mp4", endSceneID))
}

// Has reports whether name exists in the session directory.
func (s *Session) Has(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// SaveJSON writes v as indented JSON to name.
func (s *Session) SaveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return writeFileAtomic(s.Path(name), data)
}

// LoadJSON reads name into v. A missing file yields ErrMissingInput.
func (s *Session) LoadJSON(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", ErrMissingInput, s.ID, name)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// CompletedStage returns the furthest stage whose output exists: one of
// "", "script", "images", "videos", "concat".
func (s *Session) CompletedStage() string {
	switch {
	case s.Has(ConcatResultFile):
		return "concat"
	case s.Has(FinalOutputFile):
		return "videos"
	case s.Has(ScriptWithImagesFile):
		return "images"
	case s.Has(ScriptFile):
		return "script"
	}
	return ""
}

// stageOutputs lists, in stage order, the files each stage produces.
var stageOutputs = []struct {
	stage string
	files []string
}{
	{"script", []string{ScriptFile}},
	{"images", []string{ScriptWithImagesFile, PreviewFile}},
	{"videos", []string{FinalOutputFile}},
	{"concat", []string{ConcatResultFile, FinalVideoFile, PosterFile, TimelineFile}},
}

// ClearAfter removes the outputs of every stage after stage, so a re-run
// stage is never followed by results built from its previous output.
func (s *Session) ClearAfter(stage string) error {
	found := false
	for _, so := range stageOutputs {
		if !found {
			found = so.stage == stage
			continue
		}
		for _, name := range so.files {
			if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", name, err)
			}
		}
	}
	if !found {
		return fmt.Errorf("unknown stage %q", stage)
	}
	return nil
}

// PublicPath is the URL prefix under which the session's files are served.
func (s *Session) PublicPath() string {
	return "/output/" + s.ID
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
