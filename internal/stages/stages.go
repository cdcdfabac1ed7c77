// Package stages implements the four pipeline stages: script, images,
// videos and concat. Each stage talks to its remote model or local tool
// through a small interface so it can run against fakes.
package stages

import (
	"context"
	"time"

	"github.com/scivid/scivid/internal/gemini"
)

// Step names used in progress events and job records.
const (
	StepScript = "script"
	StepImages = "images"
	StepVideos = "videos"
	StepConcat = "concat"
)

// Scripter turns a document into raw script JSON.
type Scripter interface {
	GenerateScript(ctx context.Context, pdfPath, displayName, systemInstruction string, schema map[string]any) (string, error)
}

// ImageGenerator renders one image per prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, string, error)
}

// VideoGenerator seeds, extends and downloads videos.
type VideoGenerator interface {
	GenerateFromImage(ctx context.Context, prompt string, image []byte, mime string) (*gemini.Clip, error)
	ExtendVideo(ctx context.Context, prompt string, prev *gemini.Clip) (*gemini.Clip, error)
	Download(ctx context.Context, clip *gemini.Clip, dest string) error
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
