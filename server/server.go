// Package server carries turn events to the browser over a websocket and
// serves the static page the face is rendered in.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/emoface/clients"
	cfg "github.com/maastricht-university/emoface/config"
	"github.com/maastricht-university/emoface/extractor"
	"github.com/maastricht-university/emoface/metrics"
	"github.com/maastricht-university/emoface/orchestrator"
)

type Runner interface {
	Run(ctx context.Context, turnID string, history []clients.Message, emit extractor.Emitter) (*orchestrator.Result, error)
}

type Server struct {
	cfg      *cfg.Root
	runner   Runner
	records  *orchestrator.CSVLog
	reg      *prometheus.Registry
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func New(c *cfg.Root, runner Runner, records *orchestrator.CSVLog, reg *prometheus.Registry, log *logrus.Entry) *Server {
	s := &Server{cfg: c, runner: runner, records: records, reg: reg, log: log}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.reg != nil {
		mux.Handle("/metrics", metrics.Handler(s.reg))
	}
	if dir := s.cfg.Paths.Static; dir != "" {
		mux.Handle("/", http.FileServer(http.Dir(dir)))
	}
	return mux
}

// ListenAndServe blocks until ctx is done or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("upgrade failed")
		return
	}
	c := newConn(s, ws)
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()
	c.serve(r.Context())
}
