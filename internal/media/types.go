// Package media wraps the local ffmpeg toolchain: concatenating clips,
// probing files, extracting poster frames and reporting which tools are
// installed.
package media

import "time"

// RunResult captures the outcome of a single ffmpeg invocation.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the command exited cleanly.
func (r RunResult) IsSuccess() bool {
	return r.ExitCode == 0
}

// ProbeResult holds the stream facts used by the pipeline.
type ProbeResult struct {
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Codec      string  `json:"codec"`
	FrameRate  float64 `json:"frame_rate"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Size       int64   `json:"size"`
}

// ToolInfo is the availability of one executable.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports what the installed toolchain can do.
type Capabilities struct {
	FFmpeg  ToolInfo `json:"ffmpeg"`
	FFprobe ToolInfo `json:"ffprobe"`

	HasConcat bool      `json:"has_concat"`
	HasProbe  bool      `json:"has_probe"`
	ProbedAt  time.Time `json:"probed_at"`
}
