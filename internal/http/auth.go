package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/framegrab/internal/sessions"
)

type ctxKey int

const (
	tokenKey ctxKey = iota
	kindKey
)

// candidateTokens returns the tokens a request presents, in the order they
// are tried: the Authorization header (raw or "Bearer <t>") and then the
// downloadToken query parameter.
func candidateTokens(r *http.Request) []string {
	var tokens []string
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
			auth = strings.TrimSpace(t)
		}
		tokens = append(tokens, auth)
	}
	if q := r.URL.Query().Get("downloadToken"); q != "" {
		tokens = append(tokens, q)
	}
	return tokens
}

// requireAuth rejects requests with 403 unless one of the presented tokens
// is live. The accepted token is stored in the context for /logout.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, token := range candidateTokens(r) {
			kind, err := s.deps.Sessions.Authorize(token)
			if err != nil {
				continue
			}
			ctx := context.WithValue(r.Context(), tokenKey, token)
			ctx = context.WithValue(ctx, kindKey, kind)
			next(w, r.WithContext(ctx))
			return
		}
		slog.Debug("security.unauthorized", "path", r.URL.Path, "remote", clientIP(r))
		w.WriteHeader(http.StatusForbidden)
	}
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

func kindFrom(ctx context.Context) sessions.Kind {
	k, _ := ctx.Value(kindKey).(sessions.Kind)
	return k
}
