package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scivid/scivid/internal/config"
	"github.com/scivid/scivid/internal/logging"
)

func (a *app) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or prune session directories",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.store.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintf(a.out, "No sessions in %s\n", logging.SanitizePath(a.store.Root()))
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTAGE")
			for _, s := range sessions {
				stage := s.CompletedStage()
				if stage == "" {
					stage = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), stage)
			}
			return tw.Flush()
		},
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove sessions older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			retention := a.cfg.SessionRetention()
			if cmd.Flags().Changed("older-than") {
				retention = olderThan
			}
			if retention <= 0 {
				return fmt.Errorf("retention must be positive (set --older-than or %s)", config.EnvSessionRetention)
			}
			removed, err := a.store.Prune(retention)
			if err != nil {
				return err
			}
			for _, id := range removed {
				fmt.Fprintln(a.out, id)
			}
			fmt.Fprintf(a.out, "Removed %d session(s) older than %s\n", len(removed), retention)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 0, "override the configured retention")

	cmd.AddCommand(list, prune)
	return cmd
}

func (a *app) doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local toolchain and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := a.out
			if key := a.cfg.APIKey(); key != "" {
				fmt.Fprintf(w, "%-8s ok (%s)\n", "api key", logging.SanitizeToken(key))
			} else {
				fmt.Fprintf(w, "%-8s missing (set %s)\n", "api key", config.EnvAPIKey)
			}

			ff := a.newFFmpeg()
			if ff == nil {
				fmt.Fprintf(w, "%-8s missing\n", "ffmpeg")
				return fmt.Errorf("ffmpeg is not installed or not on PATH")
			}
			caps, err := ff.RunDoctor(cmd.Context())
			if err != nil {
				return err
			}
			for _, tool := range []struct {
				name string
				ok   bool
				ver  string
				err  string
			}{
				{"ffmpeg", caps.FFmpeg.Available, caps.FFmpeg.Version, caps.FFmpeg.Error},
				{"ffprobe", caps.FFprobe.Available, caps.FFprobe.Version, caps.FFprobe.Error},
			} {
				if tool.ok {
					fmt.Fprintf(w, "%-8s ok (%s)\n", tool.name, tool.ver)
				} else {
					fmt.Fprintf(w, "%-8s missing %s\n", tool.name, tool.err)
				}
			}
			if !caps.HasProbe {
				fmt.Fprintln(w, "\nWithout ffprobe, durations are estimated at ~8s per clip.")
			}
			if a.cfg.APIKey() == "" {
				return config.ErrMissingAPIKey
			}
			return nil
		},
	}
}
