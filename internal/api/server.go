// Package api is the HTTP side of intake: submit, inspect and cancel requests,
// check quotas, and follow progress over a websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/pavelc4/aether-queue/internal/dispatcher"
	"github.com/pavelc4/aether-queue/internal/quota"
	"github.com/pavelc4/aether-queue/internal/task"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

type Intake interface {
	Submit(ctx context.Context, s dispatcher.Submission) (*task.Request, error)
	Cancel(id string) error
	Get(id string) (*task.Request, bool)
	List(userID int64) []*task.Request
	Active() []*task.Request
	Position(id string) (int, bool)
	Pending() int
}

type Quota interface {
	Usage(userID int64) quota.UserQuota
	Remaining(ctx context.Context, userID int64) int64
	Limit() int64
}

type Options struct {
	Addr        string
	Token       string
	CORSOrigins []string
}

type Server struct {
	opts   Options
	intake Intake
	quota  Quota
	hub    *Hub
	engine *gin.Engine
}

func New(opts Options, intake Intake, q Quota, hub *Hub) *Server {
	s := &Server{
		opts:   opts,
		intake: intake,
		quota:  q,
		hub:    hub,
		engine: gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = s.opts.CORSOrigins
	if len(corsCfg.AllowOrigins) == 0 || (len(corsCfg.AllowOrigins) == 1 && corsCfg.AllowOrigins[0] == "*") {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}

	s.engine.Use(requestLogger(), gin.Recovery(), cors.New(corsCfg))

	s.engine.GET("/healthz", s.health)

	v1 := s.engine.Group("/api/v1", auth(s.opts.Token))
	v1.POST("/requests", s.submit)
	v1.GET("/requests", s.list)
	v1.GET("/requests/:id", s.get)
	v1.DELETE("/requests/:id", s.cancel)
	v1.GET("/quota/:user_id", s.quotaOf)
	v1.GET("/ws", s.serveWS)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("HTTP API listening", "addr", s.opts.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			logger.Warn("HTTP shutdown", "error", err)
		}
		return nil
	}
}
