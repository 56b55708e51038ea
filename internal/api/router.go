// internal/api/router.go
package api

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ManimStudio/internal/config"
	"github.com/Corphon/ManimStudio/internal/di"
	"github.com/Corphon/ManimStudio/internal/renderer"
	"github.com/Corphon/ManimStudio/internal/services"
	"github.com/Corphon/ManimStudio/internal/storage"
	"github.com/Corphon/ManimStudio/internal/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

// RouterOptions tunes the engine built by NewRouter
type RouterOptions struct {
	// RenderRateLimit is the number of renders allowed per client IP per hour; 0 disables it
	RenderRateLimit int
}

// SetupRouter builds the engine from the services registered in the container
func SetupRouter(cfg *config.Config) (*gin.Engine, error) {
	container := di.GetContainer()

	pipeline, ok := container.Get("pipeline").(*services.PipelineService)
	if !ok {
		return nil, fmt.Errorf("pipeline service not initialized")
	}
	runs, ok := container.Get("runs").(*services.RunStore)
	if !ok {
		return nil, fmt.Errorf("run store not initialized")
	}
	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("llm service not initialized")
	}
	render, ok := container.Get("renderer").(renderer.Renderer)
	if !ok {
		return nil, fmt.Errorf("renderer not initialized")
	}
	metrics, ok := container.Get("metrics").(*utils.RunMetrics)
	if !ok {
		metrics = utils.NewRunMetrics()
	}

	handler := &Handler{
		Pipeline:        pipeline,
		Runs:            runs,
		LLM:             llmService,
		Renderer:        render,
		Metrics:         metrics,
		Response:        NewResponseHelper(cfg.DebugMode),
		MaxPromptLength: cfg.MaxPromptLength,
	}
	// only set when enabled so Store stays a true nil interface otherwise
	if store, ok := container.Get("object_store").(*storage.ObjectStore); ok && store != nil {
		handler.Store = store
	}

	return NewRouter(handler, RouterOptions{RenderRateLimit: cfg.RenderRateLimit})
}

// NewRouter wires routes and middleware around h
func NewRouter(h *Handler, opts RouterOptions) (*gin.Engine, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if h.Response == nil {
		h.Response = NewResponseHelper(false)
	}
	if h.Metrics == nil {
		h.Metrics = utils.NewRunMetrics()
	}

	r := gin.Default()
	r.SetHTMLTemplate(tmpl)

	r.Use(RequestIDMiddleware())
	r.Use(MetricsMiddleware(h.Metrics))
	r.Use(corsMiddleware())

	limiter := NewRateLimiter()
	renderLimit := RenderRateLimit(limiter, opts.RenderRateLimit, nil)
	pageLimit := RenderRateLimit(limiter, opts.RenderRateLimit, h.RateLimitedPage)

	// pages
	r.GET("/", h.IndexPage)
	r.POST("/render", pageLimit, h.RenderPage)
	r.GET("/videos/:id", h.ServeVideo)

	api := r.Group("/api")
	{
		api.POST("/render", renderLimit, h.RenderAPI)

		runs := api.Group("/runs")
		{
			runs.GET("", h.ListRuns)
			runs.GET("/:id", h.GetRun)
			runs.DELETE("/:id", h.DeleteRun)
		}

		api.GET("/health", h.Health)
		api.GET("/metrics", h.GetMetrics)
	}

	return r, nil
}
