package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/scivid/scivid/internal/logging"
)

const maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

// FFmpeg is the media toolchain used by the concat stage.
type FFmpeg interface {
	// Concat joins the files listed in a concat-demuxer list into outPath
	// without re-encoding.
	Concat(ctx context.Context, listPath, outPath string) (RunResult, error)

	// Probe reads container and stream facts for a media file.
	Probe(ctx context.Context, path string) (*ProbeResult, error)

	// GenerateThumbnail writes one frame at offset seconds to outPath.
	GenerateThumbnail(ctx context.Context, path, outPath string, offset float64) (RunResult, error)
}

// Config holds the toolchain configuration.
type Config struct {
	FFmpegPath    string        // path to ffmpeg; empty = PATH lookup
	Timeout       time.Duration // per-invocation timeout
	DoctorTimeout time.Duration
	Logger        *slog.Logger
}

// Runner is the production implementation of FFmpeg.
type Runner struct {
	cfg    Config
	ffmpeg string
	logger *slog.Logger
}

// NewRunner resolves the ffmpeg binary.
func NewRunner(cfg Config) (*Runner, error) {
	bin, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.DoctorTimeout <= 0 {
		cfg.DoctorTimeout = 15 * time.Second
	}
	logger := logging.WithComponent(logging.OrDiscard(cfg.Logger), "media")
	logger.Info("media runner initialised", "ffmpeg", bin)
	return &Runner{cfg: cfg, ffmpeg: bin, logger: logger}, nil
}

// ConcatArgs builds the ffmpeg arguments for a stream-copy concat.
func ConcatArgs(listPath, outPath string) []string {
	return ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(outPath, ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput().
		GetArgs()
}

// ThumbnailArgs builds the ffmpeg arguments for a single-frame extract.
func ThumbnailArgs(path, outPath string, offset float64) []string {
	return ffmpeg.Input(path, ffmpeg.KwArgs{"ss": strconv.FormatFloat(offset, 'f', 3, 64)}).
		Output(outPath, ffmpeg.KwArgs{"vframes": "1", "q:v": "2"}).
		OverWriteOutput().
		GetArgs()
}

func (r *Runner) Concat(ctx context.Context, listPath, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.exec(ctx, outPath, ConcatArgs(listPath, outPath)...), nil
}

func (r *Runner) GenerateThumbnail(ctx context.Context, path, outPath string, offset float64) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.exec(ctx, outPath, ThumbnailArgs(path, outPath, offset)...), nil
}

func (r *Runner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	timeout := r.cfg.DoctorTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	out, err := ffmpeg.ProbeWithTimeout(path, timeout, ffmpeg.KwArgs{})
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	return ParseProbe([]byte(out))
}

type probeJSON struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// ParseProbe decodes ffprobe JSON output.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var p probeJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("cannot parse probe JSON: %w", err)
	}

	res := &ProbeResult{}
	res.Duration, _ = strconv.ParseFloat(p.Format.Duration, 64)
	res.Size, _ = strconv.ParseInt(p.Format.Size, 10, 64)

	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			if res.Codec != "" {
				continue
			}
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseRate(s.AvgFrameRate)
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}
	return res, nil
}

func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// exec is the core subprocess execution helper.
func (r *Runner) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	r.logger.Info("executing ffmpeg", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 {
		r.logger.Warn("ffmpeg failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.logger.Info("ffmpeg succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", logging.SanitizePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

// resolveBinary finds an executable, preferring the configured path.
func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
