package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scivid/scivid/internal/document"
	"github.com/scivid/scivid/internal/export"
	"github.com/scivid/scivid/internal/logging"
	"github.com/scivid/scivid/internal/pipeline"
	"github.com/scivid/scivid/internal/script"
	"github.com/scivid/scivid/internal/session"
	"github.com/scivid/scivid/internal/stages"
)

// stageFlags are shared by the single-stage commands.
type stageFlags struct {
	session string
	style   string
}

func (f *stageFlags) bind(cmd *cobra.Command, withStyle bool) {
	cmd.Flags().StringVar(&f.session, "session", "", "reuse an existing session instead of creating one")
	if withStyle {
		cmd.Flags().StringVar(&f.style, "style", "", "visual style (cinematic, academic, anime, minimalist)")
	}
}

func (a *app) scriptCmd() *cobra.Command {
	var flags stageFlags
	cmd := &cobra.Command{
		Use:   "script <pdf> [style]",
		Short: "Generate the narration script from a PDF",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSingleStage(cmd, pipeline.StageScript, &flags, args)
		},
	}
	flags.bind(cmd, true)
	return cmd
}

func (a *app) imagesCmd() *cobra.Command {
	var flags stageFlags
	cmd := &cobra.Command{
		Use:   "images <script.json> [style]",
		Short: "Render anchor images for a script",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSingleStage(cmd, pipeline.StageImages, &flags, args)
		},
	}
	flags.bind(cmd, true)
	return cmd
}

func (a *app) videosCmd() *cobra.Command {
	var flags stageFlags
	cmd := &cobra.Command{
		Use:   "videos <scriptWithImages.json>",
		Short: "Render one video per scene group",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSingleStage(cmd, pipeline.StageVideos, &flags, args)
		},
	}
	flags.bind(cmd, false)
	return cmd
}

// runSingleStage imports the input file (when given) into a new or
// existing session and runs one stage on it.
func (a *app) runSingleStage(cmd *cobra.Command, st pipeline.Stage, flags *stageFlags, args []string) error {
	ctx := cmd.Context()

	var input string
	if len(args) > 0 {
		input = args[0]
	}
	if input == "" && flags.session == "" {
		return fmt.Errorf("an input file or --session is required")
	}
	styleLabel := flags.style
	if len(args) > 1 {
		styleLabel = args[1]
	}
	style, err := script.ParseStyle(styleLabel)
	if err != nil {
		return err
	}
	if styleLabel == "" {
		// Keep the style recorded in the input.
		style = ""
	}
	if st == pipeline.StageScript && style == "" {
		style = script.DefaultStyle
	}

	if st.Remote() {
		if _, err := a.cfg.RequireAPIKey(); err != nil {
			return err
		}
	}

	var displayName string
	if input != "" {
		if _, err := os.Stat(input); err != nil {
			return fmt.Errorf("%w: %s", session.ErrMissingInput, input)
		}
		if st == pipeline.StageScript {
			info, err := document.Inspect(input)
			if err != nil {
				return err
			}
			displayName = info.Name
		}
	}

	sess, err := a.openOrCreate(flags.session)
	if err != nil {
		return err
	}
	if input != "" {
		if err := pipeline.Import(sess, st, input); err != nil {
			return err
		}
	}

	p := a.newPipeline(ctx, a.newFFmpeg())
	err = p.RunStage(ctx, sess, st, pipeline.Options{
		Style:       style,
		DisplayName: displayName,
		Report:      reporter(cmd.ErrOrStderr()),
	})
	if err != nil {
		return err
	}
	return a.printStageSummary(a.out, sess, st)
}

func (a *app) openOrCreate(id string) (*session.Session, error) {
	if id != "" {
		return a.store.Open(id)
	}
	sess, err := a.store.Create()
	if err != nil {
		return nil, err
	}
	a.logger.Info("session created", "session_id", sess.ID, "dir", logging.SanitizePath(sess.Dir))
	return sess, nil
}

func (a *app) printStageSummary(w io.Writer, sess *session.Session, st pipeline.Stage) error {
	fmt.Fprintf(w, "Session: %s\n", sess.ID)

	switch st {
	case pipeline.StageScript:
		var sc script.Script
		if err := sess.LoadJSON(session.ScriptFile, &sc); err != nil {
			return err
		}
		fmt.Fprintf(w, "Title:   %s\n", sc.Title)
		fmt.Fprintf(w, "Field:   %s\n", sc.ScientificField)
		fmt.Fprintf(w, "Scenes:  %d\n", len(sc.Scenes))
	case pipeline.StageImages:
		var swi script.ScriptWithImages
		if err := sess.LoadJSON(session.ScriptWithImagesFile, &swi); err != nil {
			return err
		}
		anchors := 0
		for _, sc := range swi.Scenes {
			if sc.HasAnchor() {
				anchors++
			}
		}
		fmt.Fprintf(w, "Images:  %d/%d\n", anchors, len(swi.Scenes))
		fmt.Fprintf(w, "Preview: %s\n", sess.Path(session.PreviewFile))
	case pipeline.StageVideos:
		var final script.FinalOutput
		if err := sess.LoadJSON(session.FinalOutputFile, &final); err != nil {
			return err
		}
		fmt.Fprintf(w, "Videos:  %d\n", len(stages.SelectVideoPaths(&final)))
	case pipeline.StageConcat:
		var res script.ConcatResult
		if err := sess.LoadJSON(session.ConcatResultFile, &res); err != nil {
			return err
		}
		printConcat(w, &res)
	}
	fmt.Fprintf(w, "Output:  %s\n", sess.Path(st.OutputFile()))

	if next, ok := st.Next(); ok {
		fmt.Fprintf(w, "\nNext step:\n  scivid %s --session %s\n", next, sess.ID)
	}
	return nil
}

func printConcat(w io.Writer, res *script.ConcatResult) {
	fmt.Fprintf(w, "Video:    %s\n", res.OutputPath)
	fmt.Fprintf(w, "Clips:    %d\n", res.ClipCount)
	fmt.Fprintf(w, "Duration: %s\n", res.Duration)
	fmt.Fprintf(w, "Size:     %s\n", res.FileSize)
}

func (a *app) concatCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "concat <video1> [video2 ...] <output> | --session <id>",
		Short: "Join video clips into the final video",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ff := a.newFFmpeg()
			if ff == nil {
				return fmt.Errorf("ffmpeg is not installed or not on PATH")
			}

			if sessionID != "" {
				sess, err := a.store.Open(sessionID)
				if err != nil {
					return err
				}
				p := a.newPipeline(ctx, ff)
				if err := p.RunStage(ctx, sess, pipeline.StageConcat, pipeline.Options{Report: reporter(cmd.ErrOrStderr())}); err != nil {
					return err
				}
				return a.printStageSummary(a.out, sess, pipeline.StageConcat)
			}

			if len(args) < 2 {
				return fmt.Errorf("need at least one input video and an output path")
			}
			inputs, out := args[:len(args)-1], args[len(args)-1]
			outDir := filepath.Dir(filepath.Clean(out))
			if err := export.ValidateDestDir(outDir); err != nil {
				return err
			}
			tmp, err := os.MkdirTemp("", "scivid-concat-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)

			res, err := stages.NewConcatStage(ff, a.logger).ConcatFiles(ctx, inputs, out, tmp)
			if err != nil {
				return err
			}
			printConcat(a.out, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "concatenate the videos of a session")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <pdf> [style]",
		Short: "Run every stage on a PDF",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var styleLabel string
			if len(args) > 1 {
				styleLabel = args[1]
			}
			style, err := script.ParseStyle(styleLabel)
			if err != nil {
				return err
			}
			info, err := document.Inspect(args[0])
			if err != nil {
				return err
			}

			p := a.newPipeline(ctx, a.newFFmpeg())
			if err := p.Ready(pipeline.StageScript); err != nil {
				return err
			}
			sess, err := a.store.Create()
			if err != nil {
				return err
			}
			if err := pipeline.Import(sess, pipeline.StageScript, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Session %s (%s, %s)\n", sess.ID, info.Name, style.DisplayName())

			err = p.RunAll(ctx, sess, pipeline.StageScript, pipeline.Options{
				Style:       style,
				DisplayName: info.Name,
				Report:      reporter(cmd.ErrOrStderr()),
			})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Resume with: scivid resume %s\n", sess.ID)
				return err
			}
			return a.printStageSummary(a.out, sess, pipeline.StageConcat)
		},
	}
	return cmd
}

func (a *app) resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session>",
		Short: "Continue a session from its first missing stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := a.store.Open(args[0])
			if err != nil {
				return err
			}
			from, done := pipeline.ResumePoint(sess)
			if done {
				fmt.Fprintf(a.out, "Session %s is already complete.\n", sess.ID)
				return a.printStageSummary(a.out, sess, pipeline.StageConcat)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Resuming %s from %s\n", sess.ID, from)

			p := a.newPipeline(ctx, a.newFFmpeg())
			if err := p.Resume(ctx, sess, pipeline.Options{Report: reporter(cmd.ErrOrStderr())}); err != nil {
				return err
			}
			return a.printStageSummary(a.out, sess, pipeline.StageConcat)
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var stdout bool
	cmd := &cobra.Command{
		Use:   "export <session>",
		Short: "Write an EDL timeline of a session's clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := a.store.Open(args[0])
			if err != nil {
				return err
			}
			p := a.newPipeline(ctx, a.newFFmpeg())
			if stdout {
				edl, err := p.Timeline(ctx, sess)
				if err != nil {
					return err
				}
				_, err = io.WriteString(a.out, edl)
				return err
			}
			path, err := p.WriteTimeline(ctx, sess)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the EDL instead of writing it to the session")
	return cmd
}
