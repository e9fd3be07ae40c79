package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/framegrab/internal/config"
	httpapi "github.com/nextlevelbuilder/framegrab/internal/http"
	"github.com/nextlevelbuilder/framegrab/internal/scheduler"
	"github.com/nextlevelbuilder/framegrab/internal/sessions"
)

const sessionSweepInterval = 10 * time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.healer.Heal(ctx, cfg.ImageDir())
	if err != nil {
		return fmt.Errorf("startup cleanup: %w", err)
	}
	slog.Info("startup cleanup complete",
		"checked", report.Checked,
		"removed", report.Removed,
		"thumbs_healed", report.ThumbsHealed,
		"parts_removed", report.PartsRemoved,
	)
	if err := p.index.Rebuild(); err != nil {
		return fmt.Errorf("index frames: %w", err)
	}
	slog.Info("frames indexed", "count", p.index.Len(), "dir", cfg.ImageDir())

	shutdownOTel := initOTelExporter(ctx, cfg)
	defer shutdownOTel()

	sched, err := scheduler.New(scheduler.Config{
		Interval:   cfg.Interval(),
		Schedule:   cfg.Capture.Schedule,
		RunOnStart: cfg.Capture.RunOnStart,
	}, func(ctx context.Context) {
		p.cycle.Run(ctx)
	})
	if err != nil {
		return err
	}

	if len(cfg.Auth.Users) == 0 {
		slog.Warn("no authorized users configured; every login will be rejected")
	}
	store := sessions.NewStore(cfg.Auth.Users)

	srv := httpapi.NewServer(httpapi.Deps{
		Sessions:       store,
		Frames:         p.index,
		Status:         p.status,
		Captcha:        p.conn,
		Trigger:        sched,
		Video:          p.video,
		Bus:            p.bus,
		ImageDir:       cfg.ImageDir(),
		LoginRPM:       cfg.Gateway.LoginRPM,
		LoginBurst:     cfg.Gateway.LoginBurst,
		ThumbCacheSize: cfg.Gateway.ThumbCacheSize,
	})

	watcher := startConfigWatcher(store)
	if watcher != nil {
		defer watcher.Stop()
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr(), err)
	}
	slog.Info("framegrab listening", "addr", ln.Addr().String(), "version", Version)

	if stopTS := initTailscale(ctx, cfg, srv.Handler()); stopTS != nil {
		defer stopTS()
	}

	g, gctx := errgroup.WithContext(ctx)
	store.StartSweeper(gctx, sessionSweepInterval)
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := p.conn.Close(closeCtx); cerr != nil {
		slog.Debug("camera close on shutdown", "error", cerr)
	}
	st := sched.Stats()
	slog.Info("framegrab stopped", "runs", st.Runs, "skips", st.Skips)
	return err
}

// startConfigWatcher pushes reloaded credentials into the session store.
// Returns nil when there is no config file to watch.
func startConfigWatcher(store *sessions.Store) *config.Watcher {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	w, err := config.NewWatcher(path)
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return nil
	}
	w.OnChange(func(cfg *config.Config) {
		store.SetCredentials(cfg.Auth.Users)
	})
	if err := w.Start(); err != nil {
		slog.Warn("config watcher failed to start", "error", err)
		return nil
	}
	return w
}
