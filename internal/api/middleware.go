// Package api implements the FlowState REST API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/metrics"
)

// Authenticator decides whether a request may touch private data.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// AllowAll accepts every request (auth mode "disabled").
type AllowAll struct{}

func (AllowAll) Authenticate(*http.Request) error { return nil }

// TokenAuthenticator requires "Authorization: Bearer <token>".
type TokenAuthenticator struct {
	Token string
}

func (a TokenAuthenticator) Authenticate(r *http.Request) error {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(a.Token)) != 1 {
		return apperr.ErrUnauthorized
	}
	return nil
}

// isPublicRead reports whether the request only asks for public data.
func isPublicRead(r *http.Request) bool {
	return r.Method == http.MethodGet && r.URL.Query().Get("public") == "1"
}

// AuthMiddleware rejects unauthenticated requests with 401. When allowPublic
// is set, public reads pass through and handlers restrict them to public notes.
func AuthMiddleware(auth Authenticator, allowPublic bool) func(http.Handler) http.Handler {
	if auth == nil {
		auth = AllowAll{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowPublic && isPublicRead(r) {
				next.ServeHTTP(w, r)
				return
			}
			if err := auth.Authenticate(r); err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics records request counts and latency labelled by chi route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
