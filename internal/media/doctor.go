package media

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Prober reports toolchain capabilities.
type Prober interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// RunDoctor checks the ffmpeg and ffprobe executables.
func (r *Runner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	caps := &Capabilities{
		FFmpeg:   toolVersion(ctx, r.ffmpeg),
		ProbedAt: time.Now(),
	}
	if p, err := exec.LookPath("ffprobe"); err == nil {
		caps.FFprobe = toolVersion(ctx, p)
	} else {
		caps.FFprobe = ToolInfo{Error: err.Error()}
	}

	caps.HasConcat = caps.FFmpeg.Available
	caps.HasProbe = caps.FFprobe.Available

	r.logger.Info("doctor probe complete",
		"ffmpeg", caps.FFmpeg.Version,
		"ffprobe", caps.FFprobe.Version,
		"concat", caps.HasConcat,
		"probe", caps.HasProbe,
	)
	return caps, nil
}

func toolVersion(ctx context.Context, bin string) ToolInfo {
	out, err := exec.CommandContext(ctx, bin, "-version").Output()
	if err != nil {
		return ToolInfo{Path: bin, Error: err.Error()}
	}
	return ToolInfo{Available: true, Path: bin, Version: ParseVersion(string(out))}
}

// ParseVersion extracts the version token from `ffmpeg -version` output.
func ParseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}

// CachedDoctor wraps a Prober to cache capability results with a TTL.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the cached capabilities without probing.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness. A failed probe
// falls back to the stale cache when there is one.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
