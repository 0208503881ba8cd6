// Package server wires the Adapter (C8) into a gin HTTP surface: execution
// and image browsing, manual QC approval, zip/CSV export, and an SSE
// stream of job/retry events. It is read-and-export-oriented — job
// starting stays with genimagefactoryctl/the desktop UI, each of which
// binds its own Processor to the Settings a user actually picked.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ascensum/genimagefactory/internal/adapter"
	"github.com/ascensum/genimagefactory/internal/wiring"
)

// New builds the gin engine serving the admin surface over app.
func New(app *wiring.App) (http.Handler, error) {
	proc := app.BuildPlaceholderProcessor(context.Background())
	runner := app.NewRunner(proc)
	retryExec := app.NewRetryExecutor(proc)
	a := adapter.New(app.Cat, app.Vault, runner, retryExec, app.Logger)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(app))
	engine.SetTrustedProxies(nil)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})

	if app.Cfg.Metrics.Enabled {
		engine.GET(app.Cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	h := &handlers{adapter: a, bus: app.Bus, logger: app.Logger}

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/executions", h.listExecutions)
		v1.GET("/executions/:id", h.getExecution)
		v1.GET("/executions/:id/export.zip", h.exportZip)
		v1.GET("/executions/:id/export.csv", h.exportCSV)
		v1.GET("/images", h.listImages)
		v1.POST("/images/:id/approve", h.approveImage)
		v1.GET("/events", h.events)
	}

	return engine, nil
}

func requestLogger(app *wiring.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		app.Logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
