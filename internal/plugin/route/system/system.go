package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/daily-log/internal/registry/route"
)

// Probe reports whether a dependency the service needs is reachable.
type Probe func(ctx context.Context) error

var (
	ready atomic.Bool
	probe atomic.Pointer[Probe]
)

// MarkReady signals that the server finished starting. The optional probe is
// run on every /ready request afterwards.
func MarkReady(p Probe) {
	if p != nil {
		probe.Store(&p)
	}
	ready.Store(true)
}

// Reset puts the readiness state back to starting.
func Reset() {
	ready.Store(false)
	probe.Store(nil)
}

func readiness(c *gin.Context) {
	if !ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	if p := probe.Load(); p != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := (*p)(ctx); err != nil {
			log.Warn("Readiness probe failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})
			r.GET("/ready", readiness)
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}
