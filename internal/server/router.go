package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/cloudsync/internal/metrics"
	"github.com/loykin/cloudsync/internal/supervisor"
)

// Controller is the part of the supervisor the control API drives.
type Controller interface {
	Status() supervisor.Status
	Start(ctx context.Context) error
	Stop()
}

// Router provides embeddable HTTP handlers for controlling the backend.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/start   200 ready, 409 not idle, 502 startup failed
//	POST {basePath}/stop    always 200
//	GET  /metrics           when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl         Controller
	basePath    string
	withMetrics bool
	log         *slog.Logger
}

func NewRouter(ctl Controller, basePath string, withMetrics bool, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{ctl: ctl, basePath: sanitizeBase(basePath), withMetrics: withMetrics, log: log}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	if r.withMetrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer listens on addr and serves the router in the background.
// The returned server's Addr is the bound address, so ":0" may be used.
func NewServer(addr, basePath string, ctl Controller, withMetrics bool, log *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control api listen %s: %w", addr, err)
	}
	r := NewRouter(ctl, basePath, withMetrics, log)
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("control api stopped", "error", err)
		}
	}()
	return server, nil
}

type errorResp struct {
	Error  string             `json:"error"`
	Status *supervisor.Status `json:"status,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Status())
}

func (r *Router) handleStart(c *gin.Context) {
	// a dropped request must not abort a startup already under way
	err := r.ctl.Start(context.WithoutCancel(c.Request.Context()))
	st := r.ctl.Status()
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, st)
	case errors.Is(err, supervisor.ErrNotIdle):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error(), Status: &st})
	default:
		r.log.Warn("start via control api failed", "error", err)
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error(), Status: &st})
	}
}

func (r *Router) handleStop(c *gin.Context) {
	r.ctl.Stop()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
