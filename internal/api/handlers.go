// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/ManimStudio/internal/errors"
	"github.com/Corphon/ManimStudio/internal/models"
	"github.com/Corphon/ManimStudio/internal/utils"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 100
	healthCheckTimeout  = 5 * time.Second
	pageTitle           = "Manim Animation Generator"
)

// RunPipeline turns a prompt into a finished run
type RunPipeline interface {
	Run(ctx context.Context, prompt string) *models.RunResult
}

// RunLookup reads persisted run records
type RunLookup interface {
	Get(id string) (*models.Run, error)
	List(limit int) ([]*models.Run, error)
	Delete(id string) error
}

// StatusReporter describes the generation backend
type StatusReporter interface {
	Describe() map[string]string
}

// HealthChecker is anything that can report reachability
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Handler serves the web page and the JSON API
type Handler struct {
	Pipeline RunPipeline
	Runs     RunLookup
	LLM      StatusReporter
	Renderer HealthChecker
	Store    HealthChecker // nil when uploads are disabled
	Metrics  *utils.RunMetrics
	Response *ResponseHelper

	MaxPromptLength int
}

// RenderRequest is the body of POST /api/render
type RenderRequest struct {
	Prompt string `json:"prompt"`
}

type pageData struct {
	Title           string
	Prompt          string
	Message         string
	VideoURL        string
	RunID           string
	MaxPromptLength int
}

func (h *Handler) page(prompt string) pageData {
	return pageData{
		Title:           pageTitle,
		Prompt:          prompt,
		MaxPromptLength: h.MaxPromptLength,
	}
}

// IndexPage renders the empty form
func (h *Handler) IndexPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", h.page(""))
}

// RenderPage handles the HTML form. The page always comes back with either
// the video or the "Error: ..." message in the output slot.
func (h *Handler) RenderPage(c *gin.Context) {
	prompt := c.PostForm("prompt")
	result := h.Pipeline.Run(c.Request.Context(), prompt)

	data := h.page(prompt)
	data.Message = result.Message()
	data.RunID = result.RunID
	if result.Succeeded() {
		data.VideoURL = "/videos/" + result.RunID
	}
	c.HTML(http.StatusOK, "index.html", data)
}

// RateLimitedPage re-renders the form when a page submission is over its limit
func (h *Handler) RateLimitedPage(c *gin.Context) {
	data := h.page(c.PostForm("prompt"))
	data.Message = "Error: rate limit exceeded"
	c.HTML(http.StatusTooManyRequests, "index.html", data)
}

// RenderAPI runs the pipeline for a JSON request
func (h *Handler) RenderAPI(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	result := h.Pipeline.Run(c.Request.Context(), req.Prompt)
	status, code := statusForRun(result.Status)
	if result.Succeeded() {
		h.Response.Success(c, result)
		return
	}
	h.Response.Failure(c, status, code, result.Error, result)
}

// ListRuns returns recent run records, newest first
func (h *Handler) ListRuns(c *gin.Context) {
	limit := defaultRunListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRunListLimit {
			h.Response.BadRequest(c, "limit must be between 1 and "+strconv.Itoa(maxRunListLimit))
			return
		}
		limit = n
	}

	runs, err := h.Runs.List(limit)
	if err != nil {
		h.Response.InternalError(c, "failed to list runs", err)
		return
	}
	h.Response.Success(c, runs)
}

// GetRun returns one run record
func (h *Handler) GetRun(c *gin.Context) {
	run, ok := h.lookupRun(c)
	if !ok {
		return
	}
	h.Response.Success(c, run)
}

// DeleteRun removes a finished run and its files
func (h *Handler) DeleteRun(c *gin.Context) {
	id := c.Param("id")
	if err := h.Runs.Delete(id); err != nil {
		switch apperrors.TypeOf(err) {
		case apperrors.ErrorTypeNotFound:
			h.Response.NotFound(c, ErrorRunNotFound, err.Error())
		case apperrors.ErrorTypeValidation:
			h.Response.Error(c, http.StatusConflict, ErrorRunInProgress, err.Error())
		default:
			h.Response.InternalError(c, "failed to delete run", err)
		}
		return
	}
	h.Response.Success(c, gin.H{"id": id, "deleted": true})
}

// ServeVideo streams the run's mp4
func (h *Handler) ServeVideo(c *gin.Context) {
	run, ok := h.lookupRun(c)
	if !ok {
		return
	}
	if run.ArtifactPath == "" {
		h.Response.NotFound(c, ErrorVideoNotFound, "run has no video")
		return
	}
	if info, err := os.Stat(run.ArtifactPath); err != nil || !info.Mode().IsRegular() {
		h.Response.NotFound(c, ErrorVideoNotFound, "video file is missing")
		return
	}
	c.Header("Content-Type", "video/mp4")
	c.File(run.ArtifactPath)
}

func (h *Handler) lookupRun(c *gin.Context) (*models.Run, bool) {
	run, err := h.Runs.Get(c.Param("id"))
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, ErrorRunNotFound, err.Error())
		} else {
			h.Response.InternalError(c, "failed to load run", err)
		}
		return nil, false
	}
	return run, true
}

// Health reports backend, renderer and object store status
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	healthy := true
	report := gin.H{}

	if h.LLM != nil {
		llmStatus := h.LLM.Describe()
		report["llm"] = llmStatus
		if llmStatus["ready"] != "true" {
			healthy = false
		}
	}

	report["renderer"] = checkStatus(ctx, h.Renderer, &healthy)
	if h.Store != nil {
		report["object_store"] = checkStatus(ctx, h.Store, &healthy)
	} else {
		report["object_store"] = "disabled"
	}

	if healthy {
		report["status"] = "ok"
		h.Response.Success(c, report)
		return
	}
	report["status"] = "degraded"
	h.Response.Failure(c, http.StatusServiceUnavailable, ErrorServiceUnhealthy, "one or more dependencies are unavailable", report)
}

func checkStatus(ctx context.Context, checker HealthChecker, healthy *bool) string {
	if checker == nil {
		*healthy = false
		return "not configured"
	}
	if err := checker.Check(ctx); err != nil {
		*healthy = false
		return err.Error()
	}
	return "ok"
}

// GetMetrics returns the metrics snapshot
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}
