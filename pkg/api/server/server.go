// Package server assembles ssbabeld's read-only introspection HTTP
// server: health/info routes, request logging, CORS, Prometheus
// metrics, and endpoints exposing the daemon's live resend table,
// tracked xroutes, and per-neighbour replay state. It follows the
// teacher's functional-options gin server pattern, trimmed of the
// OpenAPI/huma generation and OpenTelemetry trace propagation the
// teacher carries: for five read-only endpoints over a daemon's
// internal state, wiring the full huma/otel stack was judged
// disproportionate to what it would exercise (see DESIGN.md).
package server

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ssbabel/ssbabeld/pkg/api"
	"github.com/ssbabel/ssbabeld/pkg/daemon"
	"github.com/ssbabel/ssbabeld/pkg/resend"
)

const (
	// RuntimeIDHeaderKey denotes the header name / key that identifies the server runtime ID
	RuntimeIDHeaderKey = "X-SSBABELD-RUNTIME-ID"

	maxMultipartMemory = 32 << 20 // 32 MiB
)

// Option denotes a functional option for a DefaultServer instance
type Option func(*DefaultServer)

// DefaultServer is the introspection API server.
type DefaultServer struct {
	debug bool

	metrics bool

	serviceName string
	addr        string

	queryRateLimiter *rate.Limiter

	srv    *http.Server
	router *gin.Engine

	unixSocketFile string
}

// WithDebugMode runs the gin server in debug mode (e.g. not setting the release mode)
func WithDebugMode(enabled bool) Option {
	return func(server *DefaultServer) {
		server.debug = enabled
	}
}

// WithMetrics enables the /metrics Prometheus endpoint
func WithMetrics(enabled bool) Option {
	return func(server *DefaultServer) {
		server.metrics = enabled
	}
}

// WithQueryRateLimit enables a global rate limit for introspection calls
func WithQueryRateLimit(r rate.Limit, b int) Option {
	return func(server *DefaultServer) {
		if r > 0. {
			server.queryRateLimiter = rate.NewLimiter(r, b)
		}
	}
}

// NewDefault creates a new introspection API server, with routes
// registered against d's live state. d may be nil, in which case only
// the health/info/metrics routes are served.
func NewDefault(d *daemon.Daemon, serviceName, addr string, opts ...Option) *DefaultServer {
	s := &DefaultServer{
		addr:        addr,
		serviceName: strings.ToLower(serviceName),
	}

	for _, opt := range opts {
		opt(s)
	}

	if !s.debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory

	router.Use(gin.Recovery())
	router.Use(cors.Default())

	s.unixSocketFile = api.ExtractUnixSocket(addr)
	s.router = router

	s.registerInfoRoutes()
	s.registerMiddlewares()
	s.registerDaemonRoutes(d)

	return s
}

// Router exposes the underlying gin engine, mainly for tests.
func (server *DefaultServer) Router() *gin.Engine { return server.router }

// QueryRateLimiter returns the global rate limiter, if enabled (if not it returns nil and false)
func (server *DefaultServer) QueryRateLimiter() (*rate.Limiter, bool) {
	return server.queryRateLimiter, server.queryRateLimiter != nil
}

func (server *DefaultServer) registerInfoRoutes() {
	server.router.GET(api.HealthRoute, api.HealthHandler())
	server.router.GET("/healthz", api.HealthHandler())
	server.router.GET(api.InfoRoute, api.ServiceInfoHandler(server.serviceName))
	server.router.GET(api.ReadyRoute, api.ReadyHandler())
}

func (server *DefaultServer) registerMiddlewares() {
	middlewares := []gin.HandlerFunc{
		api.RequestLoggingMiddleware(),
		api.RecursionDetectorMiddleware(RuntimeIDHeaderKey, server.serviceName),
	}
	if server.queryRateLimiter != nil {
		middlewares = append(middlewares, api.RateLimitMiddleware(server.queryRateLimiter))
	}
	server.router.Use(middlewares...)

	if server.metrics {
		server.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// registerDaemonRoutes wires the read-only introspection endpoints
// against the live daemon state: pending resends, tracked xroutes,
// and per-neighbour replay state.
func (server *DefaultServer) registerDaemonRoutes(d *daemon.Daemon) {
	if d == nil {
		return
	}

	server.router.GET("/xroutes", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Xroute.All())
	})

	server.router.GET("/resend/:kind", func(c *gin.Context) {
		var kind resend.Kind
		switch c.Param("kind") {
		case "request":
			kind = resend.Request
		case "update":
			kind = resend.Update
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": `kind must be "request" or "update"`})
			return
		}
		c.JSON(http.StatusOK, d.Resend.Entries(kind))
	})

	server.router.GET("/neighbours/anm", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.ANM.All())
	})

	server.router.GET("/neighbours/:addr/anm", func(c *gin.Context) {
		addr, err := netip.ParseAddr(c.Param("addr"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid neighbour address"})
			return
		}
		iface := c.Query("iface")
		anm, ok := d.ANM.Find(addr, iface)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no replay state tracked for neighbour"})
			return
		}
		c.JSON(http.StatusOK, anm)
	})
}

const headerTimeout = 30 * time.Second

// Serve starts the API server
func (server *DefaultServer) Serve() error {
	server.srv = &http.Server{
		Handler:           server.router.Handler(),
		ReadHeaderTimeout: headerTimeout,
	}

	if server.unixSocketFile != "" {
		listener, err := net.Listen("unix", server.unixSocketFile)
		if err != nil {
			return err
		}
		return server.srv.Serve(listener)
	}

	server.srv.Addr = server.addr
	return server.srv.ListenAndServe()
}

// Shutdown shuts down the API server
func (server *DefaultServer) Shutdown(ctx context.Context) error {
	return server.srv.Shutdown(ctx)
}
