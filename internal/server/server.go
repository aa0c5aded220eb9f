// Package server serves the recommendation form and JSON API over HTTP.
package server

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/YuminosukeSato/cropsense/internal/config"
	"github.com/YuminosukeSato/cropsense/internal/crop"
	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"github.com/YuminosukeSato/cropsense/pkg/log"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(
	template.New("index.html").
		Funcs(template.FuncMap{"upper": strings.ToUpper}).
		ParseFS(templateFS, "templates/index.html"),
)

// Recommender is what the handlers need from a trained model.
type Recommender interface {
	Recommend(s crop.Sample) (crop.Recommendation, error)
	Labels() []string
}

// Server is the HTTP front end of a Recommender.
type Server struct {
	rec     Recommender
	cfg     *config.Config
	logger  log.Logger
	handler http.Handler
}

// New builds the routes and middleware chain for rec.
func New(rec Recommender, cfg *config.Config) *Server {
	s := &Server{
		rec:    rec,
		cfg:    cfg,
		logger: log.GetLoggerWithName("http.server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleForm)
	mux.HandleFunc("POST /{$}", s.handleFormSubmit)
	mux.HandleFunc("POST /api/recommend", s.handleRecommend)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.handler = Chain(
		requestLogger(s.logger),
		recoverer(s.logger),
	)(mux)
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout(),
		WriteTimeout: s.cfg.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "http.addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return cserrors.Wrapf(err, "listen on %s", srv.Addr)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return cserrors.Wrap(err, "shutdown")
	}
	return nil
}
