package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/scivid/scivid/internal/config"
	"github.com/scivid/scivid/internal/export"
	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/media"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
	"github.com/scivid/scivid/internal/stages"
)

// Config wires the stage backends. Remote backends may be nil when no API
// key is configured; only the concat stage can run then.
type Config struct {
	Scripter stages.Scripter
	Images   stages.ImageGenerator
	Videos   stages.VideoGenerator
	FFmpeg   media.FFmpeg
	Logger   *slog.Logger
}

// Options are per-run settings.
type Options struct {
	// Style overrides the script's style. Empty keeps it.
	Style script.Style
	// PDFPath is the script stage input. Defaults to the session's source.pdf.
	PDFPath     string
	DisplayName string
	Report      progress.Func
}

// Pipeline runs stages against sessions.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	script *stages.ScriptStage
	images *stages.ImageStage
	videos *stages.VideoStage
	concat *stages.ConcatStage
}

func New(cfg Config) *Pipeline {
	logger := logging.WithComponent(logging.OrDiscard(cfg.Logger), "pipeline")
	p := &Pipeline{cfg: cfg, logger: logger}
	if cfg.Scripter != nil {
		p.script = stages.NewScriptStage(cfg.Scripter, logger)
	}
	if cfg.Images != nil {
		p.images = stages.NewImageStage(cfg.Images, logger)
	}
	if cfg.Videos != nil {
		p.videos = stages.NewVideoStage(cfg.Videos, logger)
	}
	if cfg.FFmpeg != nil {
		p.concat = stages.NewConcatStage(cfg.FFmpeg, logger)
	}
	return p
}

// Ready reports an error when a stage from `from` onwards has no backend.
func (p *Pipeline) Ready(from Stage) error {
	for st := from; ; {
		if err := p.ready(st); err != nil {
			return err
		}
		next, ok := st.Next()
		if !ok {
			return nil
		}
		st = next
	}
}

func (p *Pipeline) ready(st Stage) error {
	switch st {
	case StageScript:
		if p.script == nil {
			return config.ErrMissingAPIKey
		}
	case StageImages:
		if p.images == nil {
			return config.ErrMissingAPIKey
		}
	case StageVideos:
		if p.videos == nil {
			return config.ErrMissingAPIKey
		}
	case StageConcat:
		if p.concat == nil {
			return errors.New("ffmpeg is not configured")
		}
	default:
		return fmt.Errorf("unknown stage %q", st)
	}
	return nil
}

// RunStage runs one stage. Its input must already be in the session. On
// success the outputs of later stages are removed.
func (p *Pipeline) RunStage(ctx context.Context, sess *session.Session, st Stage, opts Options) error {
	if err := p.ready(st); err != nil {
		return err
	}
	logger := logging.WithStage(logging.WithSessionID(p.logger, sess.ID), string(st))
	report := stamp(sess.ID, opts.Report)
	start := time.Now()
	logger.Info("stage started")

	var err error
	switch st {
	case StageScript:
		err = p.runScript(ctx, sess, opts, report)
	case StageImages:
		err = p.runImages(ctx, sess, opts, report)
	case StageVideos:
		err = p.runVideos(ctx, sess, report)
	case StageConcat:
		err = p.runConcat(ctx, sess, report)
	}
	if err != nil {
		logger.Error("stage failed", "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		return fmt.Errorf("%s stage: %w", st, err)
	}
	if err := sess.ClearAfter(string(st)); err != nil {
		return fmt.Errorf("%s stage: %w", st, err)
	}
	logger.Info("stage completed", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// RunAll runs from `from` through concat, stopping at the first error.
func (p *Pipeline) RunAll(ctx context.Context, sess *session.Session, from Stage, opts Options) error {
	if err := p.Ready(from); err != nil {
		return err
	}
	for st := from; ; {
		if err := p.RunStage(ctx, sess, st, opts); err != nil {
			return err
		}
		next, ok := st.Next()
		if !ok {
			return nil
		}
		st = next
	}
}

// Resume continues a session after its last completed stage. It is a no-op
// on a finished session.
func (p *Pipeline) Resume(ctx context.Context, sess *session.Session, opts Options) error {
	from, done := ResumePoint(sess)
	if done {
		p.logger.Info("session already complete", "session_id", sess.ID)
		return nil
	}
	return p.RunAll(ctx, sess, from, opts)
}

func (p *Pipeline) runScript(ctx context.Context, sess *session.Session, opts Options, report progress.Func) error {
	pdf := opts.PDFPath
	if pdf == "" {
		pdf = sess.Path(session.SourceFile)
	}
	style := opts.Style
	if style == "" {
		style = script.DefaultStyle
	}

	sc, err := p.script.Run(ctx, pdf, opts.DisplayName, style, report)
	if err != nil {
		return err
	}
	return sess.SaveJSON(session.ScriptFile, sc)
}

func (p *Pipeline) runImages(ctx context.Context, sess *session.Session, opts Options, report progress.Func) error {
	var sc script.Script
	if err := sess.LoadJSON(session.ScriptFile, &sc); err != nil {
		return err
	}
	swi, err := p.images.Run(ctx, sess, &sc, opts.Style, report)
	if err != nil {
		return err
	}
	if err := sess.SaveJSON(session.ScriptWithImagesFile, swi); err != nil {
		return err
	}
	return sess.WritePreview(swi)
}

func (p *Pipeline) runVideos(ctx context.Context, sess *session.Session, report progress.Func) error {
	var swi script.ScriptWithImages
	if err := sess.LoadJSON(session.ScriptWithImagesFile, &swi); err != nil {
		return err
	}
	final, err := p.videos.Run(ctx, sess, &swi, report)
	if err != nil {
		return err
	}
	return sess.SaveJSON(session.FinalOutputFile, final)
}

func (p *Pipeline) runConcat(ctx context.Context, sess *session.Session, report progress.Func) error {
	var final script.FinalOutput
	if err := sess.LoadJSON(session.FinalOutputFile, &final); err != nil {
		return err
	}
	res, err := p.concat.Run(ctx, sess, &final, report)
	if err != nil {
		return err
	}
	if err := sess.SaveJSON(session.ConcatResultFile, res); err != nil {
		return err
	}
	if _, err := p.WriteTimeline(ctx, sess); err != nil {
		p.logger.Warn("timeline export failed", "session_id", sess.ID, "error", err)
	}
	return nil
}

// Timeline renders the session's video groups as an EDL.
func (p *Pipeline) Timeline(ctx context.Context, sess *session.Session) (string, error) {
	var final script.FinalOutput
	if err := sess.LoadJSON(session.FinalOutputFile, &final); err != nil {
		return "", err
	}
	clips := export.ClipsFromOutput(&final, p.probeDuration(ctx))
	if len(clips) == 0 {
		return "", stages.ErrNoVideos
	}
	title := export.SanitizeName(final.Title, 64)
	if title == "" {
		title = sess.ID
	}
	return export.GenerateEDL(clips, title, export.DefaultFrameRate), nil
}

// WriteTimeline saves the EDL to the session and returns its path.
func (p *Pipeline) WriteTimeline(ctx context.Context, sess *session.Session) (string, error) {
	edl, err := p.Timeline(ctx, sess)
	if err != nil {
		return "", err
	}
	path := sess.Path(session.TimelineFile)
	if err := os.WriteFile(path, []byte(edl), 0644); err != nil {
		return "", fmt.Errorf("write timeline: %w", err)
	}
	return path, nil
}

func (p *Pipeline) probeDuration(ctx context.Context) export.DurationFunc {
	if p.cfg.FFmpeg == nil {
		return nil
	}
	return func(path string) (time.Duration, bool) {
		probe, err := p.cfg.FFmpeg.Probe(ctx, path)
		if err != nil || probe.Duration <= 0 {
			return 0, false
		}
		return time.Duration(probe.Duration * float64(time.Second)), true
	}
}

// stamp tags every event with the session id.
func stamp(sessionID string, report progress.Func) progress.Func {
	if report == nil {
		return nil
	}
	return func(e progress.Event) {
		e.SessionID = sessionID
		report(e)
	}
}
