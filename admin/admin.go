// Package admin serves the HTTP surface: a small HTML session list, a JSON
// API over the tracker operations, and the placeholder page restored tabs
// are parked on.
package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/fenetre/placeholder"
	"github.com/hazyhaar/fenetre/tracker"
)

// Server exposes the tracker over HTTP.
type Server struct {
	tr           *tracker.Tracker
	passwordHash string // bcrypt; empty disables auth
	logger       *slog.Logger
	sanitize     *bluemonday.Policy
}

// NewServer creates a Server. passwordHash is a bcrypt hash; when empty no
// authentication is required.
func NewServer(tr *tracker.Tracker, passwordHash string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		tr:           tr,
		passwordHash: passwordHash,
		logger:       logger,
		sanitize:     bluemonday.StrictPolicy(),
	}
}

// Router builds the chi router. The placeholder page is served without auth:
// restored tabs navigate to it before any credentials exist in the browser.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/placeholder", placeholder.Handler())

	r.Group(func(r chi.Router) {
		if s.passwordHash != "" {
			r.Use(s.basicAuth)
		}
		r.Get("/", s.handleIndex)
		r.Route("/api", func(r chi.Router) {
			r.Get("/snapshots", s.handleList)
			r.Route("/snapshots/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDelete)
				r.Post("/restore", s.handleRestore)
				r.Post("/undo", s.handleUndo)
				r.Post("/rename", s.handleRename)
				r.Post("/star", s.handleStar)
			})
			r.Get("/stats", s.handleStats)
			r.Get("/export", s.handleExport)
			r.Post("/import", s.handleImport)
		})
	})
	return r
}

// basicAuth accepts any username; only the password is checked against the
// bcrypt hash.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, password, ok := req.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="fenetre"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

