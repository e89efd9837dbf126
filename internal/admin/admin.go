package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/danmuck/tvremote/internal/observability"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/danmuck/tvremote/internal/remote/server"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Admin serves the operator routes for one remote server.
type Admin struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`
	Appeared time.Time `json:"appeared"`

	server *server.Server
	router *gin.Engine
}

func New(id, addr string, corsOrigins []string, srv *server.Server) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		server:   srv,
		router:   r,
	}
	a.RegisterRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

func (a *Admin) RegisterRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"server":  a.server.Config().ServerName,
			"version": version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.server.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":    ready,
			"sessions": a.server.ActiveSessions(),
			"objects":  a.server.Registry().Len(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": a.server.Sessions(),
		})
	})

	a.router.GET("/sessions/:id", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		for _, info := range a.server.Sessions() {
			if info.ID == id {
				c.JSON(http.StatusOK, info)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	})

	a.router.GET("/objects", func(c *gin.Context) {
		objects := filterObjects(a.server.Registry().Snapshot(), c.Query("type"))
		c.JSON(http.StatusOK, gin.H{
			"objects": objects,
			"types":   countTypes(objects),
		})
	})
}

// Serve runs the HTTP server until ctx ends.
func (a *Admin) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Addr)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, ln)
}

func (a *Admin) ServeListener(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	logs.Infof("admin.Admin.Serve listening addr=%q", ln.Addr().String())
	if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func filterObjects(in []remote.ObjectInfo, typeTag string) []remote.ObjectInfo {
	typeTag = strings.TrimSpace(typeTag)
	if typeTag == "" {
		return in
	}
	out := make([]remote.ObjectInfo, 0, len(in))
	for _, obj := range in {
		if obj.Type == typeTag {
			out = append(out, obj)
		}
	}
	return out
}

type typeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

func countTypes(objects []remote.ObjectInfo) []typeCount {
	counts := make(map[string]int)
	for _, obj := range objects {
		counts[obj.Type]++
	}
	out := make([]typeCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, typeCount{Type: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Type < out[j].Type
	})
	return out
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
