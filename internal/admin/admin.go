// Package admin is the HTTP surface of a long running dutctl session.
//
// Ownership boundary:
// - gin routes over one transport.Transport
// - the periodic reconcile watchdog (watchdog.go)
// - bearer token on the power routes when admin.token is set
package admin

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/danmuck/dutctl/internal/auth"
	"github.com/danmuck/dutctl/internal/config"
	"github.com/danmuck/dutctl/internal/dut"
	"github.com/danmuck/dutctl/internal/observability"
	"github.com/danmuck/dutctl/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Server struct {
	instance string
	cfg      config.AdminConfig
	tr       transport.Transport
	defaults *dut.Args
	router   *gin.Engine
	appeared time.Time
	watchdog *Watchdog
}

// StartRequest is the optional body of POST /start and POST /restart.
type StartRequest struct {
	FactoryReset bool              `json:"factory_reset"`
	Args         map[string]string `json:"args"`
}

// New builds the router. defaults are merged under request arguments.
func New(instance string, tr transport.Transport, cfg config.AdminConfig, defaults *dut.Args) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(instance))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if defaults == nil {
		defaults = dut.NewArgs()
	}
	s := &Server{
		instance: instance,
		cfg:      cfg,
		tr:       tr,
		defaults: defaults,
		router:   r,
		appeared: time.Now(),
	}
	s.watchdog = NewWatchdog(instance, tr)
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) Watchdog() *Watchdog { return s.watchdog }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.appeared).String(),
			"instance": s.instance,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/capabilities", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"instance":     s.instance,
			"capabilities": s.tr.Capabilities().Names(),
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		emu, err := s.tr.Emulator()
		if err != nil {
			s.fail(c, err)
			return
		}
		state, err := emu.State()
		body := gin.H{"instance": s.instance, "state": state.String()}
		if err != nil {
			body["error"] = err.Error()
		}
		c.JSON(http.StatusOK, body)
	})

	power := s.router.Group("/")
	if s.cfg.Token != "" {
		power.Use(auth.Require(auth.StaticToken{Token: s.cfg.Token}))
	}
	power.POST("/start", s.powerHandler("start"))
	power.POST("/restart", s.powerHandler("restart"))
	power.POST("/stop", s.powerHandler("stop"))
}

func (s *Server) powerHandler(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		emu, err := s.tr.Emulator()
		if err != nil {
			s.fail(c, err)
			return
		}
		args := s.requestArgs(req.Args)
		switch op {
		case "start":
			err = emu.Start(req.FactoryReset, args)
		case "restart":
			err = emu.Restart(req.FactoryReset, args)
		default:
			err = emu.Stop()
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		state, _ := emu.State()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "op": op, "state": state.String()})
	}
}

// requestArgs applies request values over the configured defaults in key
// order so the command line is deterministic.
func (s *Server) requestArgs(in map[string]string) *dut.Args {
	args := s.defaults.Clone()
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args.Set(k, dut.ParseValue(in[k]))
	}
	return args
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, transport.ErrUnsupportedOperation):
		return http.StatusNotImplemented
	case errors.Is(err, dut.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, dut.ErrAlreadyRunning),
		errors.Is(err, dut.ErrAlreadyOff),
		errors.Is(err, dut.ErrTransientBusy),
		errors.Is(err, dut.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Serve listens on admin.listen and serves until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener runs the HTTP server on ln and the watchdog until ctx is done.
// ln is closed on return.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if err := s.watchdog.Start(s.cfg.ReconcileInterval.Duration); err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = s.watchdog.Stop() }()

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	tls := s.cfg.TLS
	errCh := make(chan error, 1)
	go func() {
		if tls.Enabled() {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()
	log.Info().
		Str("listen", ln.Addr().String()).
		Str("instance", s.instance).
		Bool("tls", tls.Enabled()).
		Bool("token", s.cfg.Token != "").
		Msg("admin listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
