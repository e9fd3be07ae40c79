package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/framegrab/internal/config"
	"github.com/nextlevelbuilder/framegrab/internal/frames"
	"github.com/nextlevelbuilder/framegrab/internal/media"
	"github.com/nextlevelbuilder/framegrab/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("framegrab doctor")
	fmt.Printf("  Version:  %s (bridge protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, environment only)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	} else {
		fmt.Println("  Config valid")
	}

	fmt.Println()
	fmt.Println("  Camera:")
	switch {
	case cfg.Camera.BridgeURL != "":
		fmt.Printf("    %-12s %s\n", "Bridge:", cfg.Camera.BridgeURL)
		fmt.Printf("    %-12s %s\n", "Device:", orNone(cfg.Camera.DeviceSN))
		fmt.Printf("    %-12s %s\n", "Username:", orNone(cfg.Camera.Username))
		if err := cfg.ResolveCameraPassword(); err != nil {
			fmt.Printf("    %-12s keyring error: %s\n", "Password:", err)
		} else {
			fmt.Printf("    %-12s %s\n", "Password:", maskSecret(cfg.Camera.Password))
		}
	case cfg.Camera.StreamURL != "":
		fmt.Printf("    %-12s %s\n", "Stream:", cfg.Camera.StreamURL)
	default:
		fmt.Printf("    %-12s (not configured)\n", "Source:")
	}

	fmt.Println()
	fmt.Println("  Schedule:")
	if cfg.Capture.Schedule != "" {
		fmt.Printf("    %-12s %s\n", "Cron:", cfg.Capture.Schedule)
	} else {
		fmt.Printf("    %-12s %s\n", "Every:", cfg.Interval())
	}
	fmt.Printf("    %-12s %d\n", "Users:", len(cfg.Auth.Users))

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary(cfg.FFmpeg.Path)
	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if ff, err := media.NewFFmpeg(cfg.FFmpeg.Path, cfg.FFmpeg.ExtraInputArgs); err != nil {
		fmt.Printf("    %-12s %s\n", "Extra args:", err)
	} else if v, err := ff.Version(vctx); err == nil {
		fmt.Printf("    %-12s %s\n", "Version:", v)
	}

	fmt.Println()
	dir := cfg.ImageDir()
	fmt.Printf("  Images:   %s", dir)
	if _, err := os.Stat(dir); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		idx := frames.NewIndex(dir)
		if err := idx.Rebuild(); err != nil {
			fmt.Printf(" (unreadable: %s)\n", err)
		} else {
			fmt.Printf(" (%d frames)\n", idx.Len())
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
