package stages

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
)

// ImageStage generates anchor images for the scenes that need one.
type ImageStage struct {
	gen    ImageGenerator
	logger *slog.Logger
}

func NewImageStage(gen ImageGenerator, logger *slog.Logger) *ImageStage {
	return &ImageStage{
		gen:    gen,
		logger: logging.WithStage(logging.OrDiscard(logger), StepImages),
	}
}

// Run walks the scenes in order and renders an anchor image for the first
// scene and every low-motion scene. A failed render leaves the scene
// without an image; the video stage rejects a script whose first scene
// ends up unanchored. style overrides the script's own style when set.
func (s *ImageStage) Run(ctx context.Context, sess *session.Session, sc *script.Script, style script.Style, report progress.Func) (*script.ScriptWithImages, error) {
	if style == "" {
		style = sc.Style
	}
	if !style.Valid() {
		style = script.DefaultStyle
	}

	out := sc.WithImages()
	out.Style = style
	total := len(out.Scenes)

	for i := range out.Scenes {
		scene := &out.Scenes[i]
		report.Emit(progress.Event{
			Step:     StepImages,
			Message:  fmt.Sprintf("Scene %d/%d", i+1, total),
			Progress: progress.Percent(i, total),
		})

		if !script.NeedsAnchor(i, scene.Scene) {
			s.logger.Debug("scene extends previous video", "scene_id", scene.ID, "motion", scene.MotionIntensity)
			continue
		}

		if err := s.renderAnchor(ctx, sess, style, scene); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("anchor image failed, continuing without image", "scene_id", scene.ID, "error", err)
			continue
		}
	}

	anchors := 0
	for _, scene := range out.Scenes {
		if scene.HasAnchor() {
			anchors++
		}
	}
	s.logger.Info("images generated", "anchors", anchors, "scenes", total)
	report.Emit(progress.Event{
		Step:     StepImages,
		Message:  "Images generated",
		Progress: 100,
		Detail:   fmt.Sprintf("%d anchor images", anchors),
	})
	return out, nil
}

func (s *ImageStage) renderAnchor(ctx context.Context, sess *session.Session, style script.Style, scene *script.ImageScene) error {
	prompt := script.ImagePrompt(style, scene.VisualDescription)
	s.logger.Info("generating anchor image", "scene_id", scene.ID)

	data, mime, err := s.gen.GenerateImage(ctx, prompt)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty image for scene %d", scene.ID)
	}

	path := sess.ImagePath(scene.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	b64 := script.DataURL(mime, base64.StdEncoding.EncodeToString(data))
	scene.ImagePath = &path
	scene.ImageBase64 = &b64
	return nil
}
