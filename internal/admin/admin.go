// Package admin serves the fetch server's operational HTTP surface: health,
// readiness, Prometheus metrics and a read-only view of connected sessions.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/edgefetch/internal/auth"
	"github.com/danmuck/edgefetch/internal/node"
	"github.com/danmuck/edgefetch/internal/observability"
	"github.com/danmuck/edgefetch/internal/server"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Source is the listener state the admin surface reports on.
type Source interface {
	Listening() bool
	ActiveSessions() int64
	Counters() (accepted, rejected uint64)
	Snapshot() []server.SessionSnapshot
}

var _ Source = (*server.Service)(nil)

type Config struct {
	ID          string
	Addr        string
	Token       string
	CorsOrigins []string
}

type Admin struct {
	ID       string    `json:"id"`
	Appeared time.Time `json:"appeared"`

	addr      string
	source    Source
	validator auth.Validator
	router    *gin.Engine
}

var _ node.Node = (*Admin)(nil)

// New builds the router and registers every route. A blank Token leaves the
// sessions view open.
func New(cfg Config, source Source) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:       cfg.ID,
		Appeared: time.Now(),
		addr:     cfg.Addr,
		source:   source,
		router:   r,
	}
	if cfg.Token != "" {
		a.validator = auth.StaticToken{Token: cfg.Token}
	}
	a.registerRoutes()
	return a
}

func (a *Admin) NodeID() string {
	return a.ID
}

func (a *Admin) Kind() string {
	return "admin"
}

func (a *Admin) Addr() string {
	return a.addr
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"node":    a.ID,
			"version": Version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.source != nil && a.source.Listening()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(a.Appeared).String(),
			"node":    a.ID,
			"version": Version,
		})
	})

	sessions := a.router.Group("/sessions", a.requireToken())
	sessions.GET("", func(c *gin.Context) {
		if a.source == nil {
			c.JSON(http.StatusOK, gin.H{"active": 0, "sessions": []server.SessionSnapshot{}})
			return
		}
		accepted, rejected := a.source.Counters()
		c.JSON(http.StatusOK, gin.H{
			"active":   a.source.ActiveSessions(),
			"accepted": accepted,
			"rejected": rejected,
			"sessions": a.source.Snapshot(),
		})
	})
	sessions.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		if a.source != nil {
			for _, s := range a.source.Snapshot() {
				if s.ID == id {
					c.JSON(http.StatusOK, s)
					return
				}
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	})
}

func (a *Admin) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.validator == nil {
			c.Next()
			return
		}
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || a.validator.Validate(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

// Serve runs the HTTP server until ctx is done, then shuts it down.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("node", a.ID).Str("addr", a.addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
