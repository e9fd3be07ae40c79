package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/framegrab/internal/capture"
)

func captureCmd() *cobra.Command {
	var prompt bool
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run a single capture cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := newPipeline(cfg)
			if err != nil {
				return err
			}
			defer p.Close()
			if err := p.index.Rebuild(); err != nil {
				return err
			}

			res := p.cycle.Run(cmd.Context())
			if errors.Is(res.Err, capture.ErrAuthRequired) && prompt {
				_, challenge := p.conn.State()
				if challenge == nil {
					return res.Err
				}
				fmt.Printf("Captcha requested (id %s).\nImage: %s\n", challenge.ID, truncate(challenge.Image, 120))
				fmt.Print("Solution: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read solution: %w", err)
				}
				if err := p.conn.SubmitSolution(challenge.ID, strings.TrimSpace(line)); err != nil {
					return err
				}
				res = p.cycle.Run(cmd.Context())
			}
			if res.Err != nil {
				return res.Err
			}
			fmt.Printf("Captured %s in %s (run %s)\n", res.Frame.Name, res.Duration.Round(time.Millisecond), res.RunID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&prompt, "prompt", false, "ask for a captcha solution on stdin when the camera requests one")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
