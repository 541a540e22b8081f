// Package server exposes the registry and the record store over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/qarbon/qingest/pkg/registry"
	"github.com/qarbon/qingest/pkg/storage"
)

// DefaultMaxBody caps request payloads.
const DefaultMaxBody = 32 << 20

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

type Server struct {
	Registry *registry.Registry
	DB       *storage.DB // optional; record endpoints answer 503 without it
	Username string
	Password string
	MaxBody  int64
	Log      registry.Logger
}

func New(reg *registry.Registry, db *storage.DB, user, pass string) *Server {
	return &Server{
		Registry: reg,
		DB:       db,
		Username: user,
		Password: pass,
		MaxBody:  DefaultMaxBody,
		Log:      nopLogger{},
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/detect", s.basicAuth(s.handleDetect))
	mux.HandleFunc("POST /api/ingest", s.basicAuth(s.handleIngest))
	mux.HandleFunc("GET /api/adapters", s.basicAuth(s.handleAdapters))
	mux.HandleFunc("GET /api/stats", s.basicAuth(s.handleStats))
	mux.HandleFunc("GET /api/records", s.basicAuth(s.handleRecords))
	mux.HandleFunc("GET /api/records/{id}", s.basicAuth(s.handleRecord))
	mux.HandleFunc("GET /api/detections", s.basicAuth(s.handleDetections))
	return mux
}

func (s *Server) Start(addr string) error {
	s.Log.Infof("[server] listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
