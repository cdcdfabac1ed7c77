package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/media"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
)

const (
	// EstimatedClipDuration is assumed per clip when probing fails.
	EstimatedClipDuration = 8 * time.Second

	concatListName = "concat_list.txt"
)

// ErrNoVideos is returned when a final output has no usable video paths.
var ErrNoVideos = errors.New("no valid video paths to concatenate")

// ConcatStage joins the group videos into the session's final video.
type ConcatStage struct {
	ff     media.FFmpeg
	logger *slog.Logger
}

func NewConcatStage(ff media.FFmpeg, logger *slog.Logger) *ConcatStage {
	return &ConcatStage{
		ff:     ff,
		logger: logging.WithStage(logging.OrDiscard(logger), StepConcat),
	}
}

// SelectVideoPaths returns the ordered clip paths of a final output:
// videoPaths when present, else each scene's video path once. Browser
// blob URLs and empty entries are skipped.
func SelectVideoPaths(final *script.FinalOutput) []string {
	var paths []string
	if len(final.VideoPaths) > 0 {
		for _, p := range final.VideoPaths {
			if usablePath(p) {
				paths = append(paths, p)
			}
		}
		return paths
	}

	seen := make(map[string]bool)
	for _, sc := range final.Scenes {
		if !usablePath(sc.VideoPath) || seen[sc.VideoPath] {
			continue
		}
		seen[sc.VideoPath] = true
		paths = append(paths, sc.VideoPath)
	}
	return paths
}

func usablePath(p string) bool {
	return p != "" && !strings.HasPrefix(p, "blob:")
}

// Run concatenates the session's clips into final.mp4. A single clip is
// returned as is.
func (c *ConcatStage) Run(ctx context.Context, sess *session.Session, final *script.FinalOutput, report progress.Func) (*script.ConcatResult, error) {
	paths := SelectVideoPaths(final)
	if len(paths) == 0 {
		return nil, ErrNoVideos
	}
	report.Emit(progress.Event{Step: StepConcat, Message: "Concatenating videos", Progress: 0, Detail: fmt.Sprintf("%d clips", len(paths))})

	var (
		res *script.ConcatResult
		err error
	)
	if len(paths) == 1 {
		c.logger.Info("single video, skipping concat", "path", paths[0])
		res, err = c.describe(ctx, paths[0], 1)
	} else {
		res, err = c.ConcatFiles(ctx, paths, sess.Path(session.FinalVideoFile), sess.Path(session.TempDir))
	}
	if err != nil {
		return nil, err
	}

	poster := sess.Path(session.PosterFile)
	if r, err := c.ff.GenerateThumbnail(ctx, res.OutputPath, poster, 1); err != nil || !r.IsSuccess() {
		c.logger.Warn("poster frame failed", "error", err, "stderr_tail", r.StderrTail)
	}

	report.Emit(progress.Event{Step: StepConcat, Message: "Final video ready", Progress: 100, Detail: res.FileSize})
	return res, nil
}

// ConcatFiles joins inputs into outPath using a list file written to
// tempDir. Every input must exist.
func (c *ConcatStage) ConcatFiles(ctx context.Context, inputs []string, outPath, tempDir string) (*script.ConcatResult, error) {
	if len(inputs) == 0 {
		return nil, ErrNoVideos
	}

	abs := make([]string, len(inputs))
	for i, in := range inputs {
		p, err := filepath.Abs(in)
		if err != nil {
			return nil, fmt.Errorf("invalid video path %q: %w", in, err)
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("video not found: %s", in)
		}
		abs[i] = p
	}

	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	listPath := filepath.Join(tempDir, concatListName)
	if err := os.WriteFile(listPath, []byte(ConcatList(abs)), 0644); err != nil {
		return nil, fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	c.logger.Info("concatenating videos", "clips", len(abs), "output", outPath)
	result, err := c.ff.Concat(ctx, listPath, outPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg concat: %w", err)
	}
	if !result.IsSuccess() {
		return nil, fmt.Errorf("ffmpeg concat exited %d: %s", result.ExitCode, tail(result.StderrTail, 512))
	}

	return c.describe(ctx, outPath, len(abs))
}

// ConcatList renders the ffmpeg concat demuxer list for paths.
func ConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

func (c *ConcatStage) describe(ctx context.Context, path string, clips int) (*script.ConcatResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("output video missing: %w", err)
	}

	duration := fmt.Sprintf("~%ds", int(EstimatedClipDuration.Seconds())*clips)
	if probe, err := c.ff.Probe(ctx, path); err == nil && probe.Duration > 0 {
		duration = fmt.Sprintf("%.1fs", probe.Duration)
	} else if err != nil {
		c.logger.Debug("probe failed, using estimate", "error", err)
	}

	return &script.ConcatResult{
		OutputPath: path,
		Duration:   duration,
		FileSize:   FormatSize(info.Size()),
		ClipCount:  clips,
	}, nil
}

// FormatSize renders a byte count in megabytes.
func FormatSize(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
