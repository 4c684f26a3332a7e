// v3
// services/simulator/internal/server.go
package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServer struct {
	cfg  *AppConfig
	svc  *Service
	lg   *slog.Logger
	http *http.Server
}

func NewHTTPServer(cfg *AppConfig, svc *Service, lg *slog.Logger) *HTTPServer {
	r := mux.NewRouter()
	s := &HTTPServer{cfg: cfg, svc: svc, lg: lg}
	r.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/config/reload", s.postReload).Methods(http.MethodPost)
	s.http = &http.Server{Addr: cfg.HTTPBind, Handler: handlers.LoggingHandler(os.Stdout, r)}
	return s
}

func (s *HTTPServer) Start() error {
	s.lg.Info("http start", "bind", s.cfg.HTTPBind)
	return s.http.ListenAndServe()
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.lg.Info("http stop")
	return s.http.Shutdown(ctx)
}

func (s *HTTPServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		return
	}
}

func (s *HTTPServer) getStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.svc.Status()); err != nil {
		return
	}
}

func (s *HTTPServer) postReload(w http.ResponseWriter, _ *http.Request) {
	if err := s.cfg.ReloadProperties(); err != nil {
		s.lg.Error("reload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, err := w.Write([]byte(err.Error())); err != nil {
			return
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("reloaded")); err != nil {
		return
	}
}
