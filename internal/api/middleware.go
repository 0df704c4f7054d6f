package api

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anthill-platform/anthill-market/internal/access"
)

const requestIDHeader = "X-Request-Id"

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic serving request",
					"method", r.Method, "path", r.URL.Path,
					"panic", p, "stack", string(debug.Stack()))
				writeErrorMessage(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", sw.status, "duration", time.Since(start),
			"request_id", w.Header().Get(requestIDHeader))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// authed verifies the bearer token, checks the required scopes, and
// passes the token to the handler through the request context.
func (s *Server) authed(handler func(http.ResponseWriter, *http.Request, *access.Token), scopes ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := s.signer.Verify(raw, s.clock.Now())
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, err.Error())
			return
		}

		if !token.HasScopes(scopes...) {
			writeErrorMessage(w, http.StatusForbidden, "missing required scopes")
			return
		}

		handler(w, r.WithContext(access.WithToken(r.Context(), token)), token)
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	// Websocket clients cannot set headers from browsers; allow the
	// token as a query parameter there.
	return r.URL.Query().Get("access_token")
}
