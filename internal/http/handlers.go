package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/nextlevelbuilder/framegrab/internal/capture"
	"github.com/nextlevelbuilder/framegrab/internal/media"
	"github.com/nextlevelbuilder/framegrab/internal/scheduler"
	"github.com/nextlevelbuilder/framegrab/internal/sessions"
)

const maxLoginBody = 4 << 10

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.Allow(ip) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxLoginBody)).Decode(&req); err != nil {
		slog.Warn("security.login_malformed", "remote", ip, "error", err)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	token, err := s.deps.Sessions.IssueFull(req.Username, req.Password)
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, token)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.Revoke(tokenFrom(r.Context()))
	slog.Info("session revoked", "kind", kindFrom(r.Context()).String(), "remote", clientIP(r))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	token, err := s.deps.Sessions.IssueDownload()
	if err != nil {
		writeError(w, err)
		return
	}
	names := s.deps.Frames.Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"images":        names,
		"downloadToken": token,
	})
}

func (s *Server) handleImageToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.deps.Sessions.IssueDownload()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"downloadToken": token})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Status.Snapshot())
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	fps, err := media.ParseFPS(r.PathValue("fps"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	path, err := s.deps.Video.Assemble(r.Context(), fps)
	if err != nil {
		slog.Warn("video assembly failed", "fps", fps, "error", err)
		writeError(w, err)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			slog.Warn("remove timelapse failed", "path", path, "error", err)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.FormatInt(st.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		slog.Debug("video transfer interrupted", "error", err)
	}
}

type captchaResponse struct {
	Connected        bool   `json:"isConnected"`
	CaptchaRequested string `json:"captchaRequested,omitempty"`
}

// handleCaptcha records the solution and runs a cycle right away so the
// caller learns whether it was accepted.
func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	solution := r.PathValue("solution") // already unescaped by the mux

	if err := s.deps.Captcha.SubmitSolution("", solution); err != nil {
		slog.Warn("captcha solution not recorded", "error", err)
	}

	status := http.StatusOK
	// The cycle outlives a client that hangs up mid-request.
	if err := s.deps.Trigger.TriggerNow(context.WithoutCancel(r.Context())); err != nil {
		status = statusFor(err)
	}

	st := s.deps.Status.Snapshot()
	writeJSON(w, status, captchaResponse{
		Connected:        st.Connected,
		CaptchaRequested: st.CaptchaRequested,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sessions.ErrInvalidCredentials), errors.Is(err, sessions.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, media.ErrNoFrames):
		return http.StatusNotFound
	case errors.Is(err, media.ErrInvalidFPS):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, capture.ErrStaleChallenge), errors.Is(err, capture.ErrNoChallenge):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := http.StatusText(status)
	if status != http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
