package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/framegrab/internal/frames"
)

func framesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Inspect and maintain stored frames",
	}
	cmd.AddCommand(framesListCmd())
	cmd.AddCommand(framesHealCmd())
	cmd.AddCommand(framesLogCmd())
	return cmd
}

func framesListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored frames, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			idx := frames.NewIndex(cfg.ImageDir())
			if err := idx.Rebuild(); err != nil {
				return err
			}
			list := idx.List()
			if jsonOutput {
				return printJSON(list)
			}
			if len(list) == 0 {
				fmt.Println("No frames.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME\tCAPTURED\tTHUMB\n")
			for _, f := range list {
				thumb := "yes"
				if _, err := os.Stat(f.ThumbPath); err != nil {
					thumb = "missing"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, time.UnixMilli(f.Timestamp).Format(time.RFC3339), thumb)
			}
			tw.Flush()
			fmt.Printf("\n%d frames in %s\n", len(list), cfg.ImageDir())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func framesHealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heal",
		Short: "Delete blank frames and regenerate missing thumbnails",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flog, err := frames.OpenLog(cfg.FrameLogPath())
			if err != nil {
				return err
			}
			defer flog.Close()

			h := &frames.Healer{
				Validator:   frames.NewValidator(cfg.Capture.BlankThreshold),
				Thumbnailer: frames.NewThumbnailer(),
				Log:         flog,
			}
			report, err := h.Heal(cmd.Context(), cfg.ImageDir())
			if err != nil {
				return err
			}
			fmt.Printf("Checked %d frames: removed %d, healed %d thumbnails (%d failed), cleared %d partial files\n",
				report.Checked, report.Removed, report.ThumbsHealed, report.ThumbFailures, report.PartsRemoved)
			return nil
		},
	}
}

func framesLogCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent frame lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flog, err := frames.OpenLog(cfg.FrameLogPath())
			if err != nil {
				return err
			}
			defer flog.Close()

			entries, err := flog.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "RECORDED\tEVENT\tFRAME\n")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", time.UnixMilli(e.RecordedAt).Format(time.RFC3339), e.Event, e.Name)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			captured, err := flog.Count(cmd.Context(), frames.EventCaptured)
			if err != nil {
				return err
			}
			removed, err := flog.Count(cmd.Context(), frames.EventRemoved)
			if err != nil {
				return err
			}
			fmt.Printf("\n%d captured, %d removed in total\n", captured, removed)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
