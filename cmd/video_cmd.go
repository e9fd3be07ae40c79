package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/framegrab/internal/media"
)

func videoCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "video [fps]",
		Short: "Assemble stored frames into a timelapse MP4",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			fps, err := media.ParseFPS(arg)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			tmp, err := p.video.Assemble(cmd.Context(), fps)
			if err != nil {
				return err
			}
			defer os.Remove(tmp)

			if out == "" {
				out = "timelapse_" + strconv.Itoa(fps) + "fps.mp4"
			}
			if err := moveFile(tmp, out); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default timelapse_<fps>fps.mp4)")
	return cmd
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, in); err != nil {
		f.Close()
		os.Remove(dst)
		return fmt.Errorf("copy video: %w", err)
	}
	return f.Close()
}
