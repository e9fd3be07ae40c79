// Package http serves the framegrab API: login, frame listing and files,
// device status, captcha submission, timelapse video and a status push
// channel over WebSocket.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/framegrab/internal/bus"
	"github.com/nextlevelbuilder/framegrab/internal/capture"
	"github.com/nextlevelbuilder/framegrab/internal/sessions"
)

// StatusSource yields the current device status.
type StatusSource interface {
	Snapshot() capture.DeviceStatus
}

// CaptchaSolver accepts a human captcha solution.
type CaptchaSolver interface {
	SubmitSolution(id, solution string) error
}

// CycleTrigger runs a capture cycle now.
type CycleTrigger interface {
	TriggerNow(ctx context.Context) error
}

// VideoAssembler builds a timelapse file the caller must delete.
type VideoAssembler interface {
	Assemble(ctx context.Context, fps int) (string, error)
}

// FrameLister lists persisted frame names, oldest first.
type FrameLister interface {
	Names() []string
}

// Deps are the collaborators the server dispatches to.
type Deps struct {
	Sessions *sessions.Store
	Frames   FrameLister
	Status   StatusSource
	Captcha  CaptchaSolver
	Trigger  CycleTrigger
	Video    VideoAssembler
	Bus      *bus.StatusBus // optional; /events is disabled without it
	ImageDir string

	LoginRPM       int
	LoginBurst     int
	ThumbCacheSize int
}

// Server is the framegrab HTTP gateway.
type Server struct {
	deps    Deps
	limiter *RateLimiter
	files   *fileServer
	handler http.Handler
}

func NewServer(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		limiter: NewRateLimiter(deps.LoginRPM, deps.LoginBurst),
		files:   newFileServer(deps.ImageDir, deps.ThumbCacheSize),
	}
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = cors(mux)
	return s
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /login", s.handleLogin)

	mux.HandleFunc("POST /logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("GET /images", s.requireAuth(s.handleImages))
	mux.HandleFunc("GET /imageToken", s.requireAuth(s.handleImageToken))
	mux.HandleFunc("GET /status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("GET /video", s.requireAuth(s.handleVideo))
	mux.HandleFunc("GET /video/{fps}", s.requireAuth(s.handleVideo))
	mux.HandleFunc("GET /captcha/{solution}", s.requireAuth(s.handleCaptcha))
	mux.HandleFunc("GET /files/{name}", s.requireAuth(s.files.handle))
	mux.HandleFunc("GET /{name}", s.requireAuth(s.files.handle))

	if s.deps.Bus != nil {
		mux.HandleFunc("GET /events", s.requireAuth(s.handleEvents))
	}
}

// Serve runs the server on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.limiter.StartCleanup(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json failed", "error", err)
	}
}
