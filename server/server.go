// Package server - HTTP and websocket front-end for a detection session.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/go-live-detect/profiler"
	"github.com/nvr-ai/go-live-detect/session"
)

const (
	// DefaultMaxUploadBytes bounds the body of POST /api/detect.
	DefaultMaxUploadBytes = 32 << 20
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 5 * time.Second
	writeTimeout    = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	// Logger receives request and stream events.
	Logger *zap.SugaredLogger
	// Profiler is exposed on GET /api/stats when set.
	Profiler *profiler.RuntimeProfiler
	// MaxUploadBytes bounds uploaded images. 0 uses DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

// Server exposes a session over HTTP.
type Server struct {
	sess     *session.Session
	hub      *Hub
	logger   *zap.SugaredLogger
	profiler *profiler.RuntimeProfiler
	maxBody  int64
	router   *httprouter.Router
	upgrader websocket.Upgrader

	// loopCtx bounds loops started by stream clients.
	loopCtx context.Context
}

// New creates a server for sess. hub must be the hub receiving the session's
// cycles, see Hub.Publish.
//
// Arguments:
//   - sess: The session to control.
//   - hub: Fan-out of the session's cycle results.
//   - opts: Logger, profiler and upload limit.
//
// Returns:
//   - *Server: The server with every route registered.
func New(sess *session.Session, hub *Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Server{
		sess:     sess,
		hub:      hub,
		logger:   opts.Logger,
		profiler: opts.Profiler,
		maxBody:  opts.MaxUploadBytes,
		router:   httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		loopCtx: context.Background(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/api/models", s.httpListModels)
	s.router.GET("/api/models/current", s.httpCurrentModel)
	s.router.DELETE("/api/models/current", s.httpResetModel)
	s.router.POST("/api/models/:id", s.httpSelectModel)
	s.router.POST("/api/detect", s.httpDetect)
	s.router.GET("/api/stream", s.httpStream)
	s.router.DELETE("/api/stream", s.httpStopStream)
	s.router.GET("/api/stats", s.httpStats)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.loopCtx = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Infow("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", addr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		s.logger.Infow("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
