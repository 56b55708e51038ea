// internal/services/pipeline_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/ManimStudio/internal/errors"
	"github.com/Corphon/ManimStudio/internal/models"
	"github.com/Corphon/ManimStudio/internal/renderer"
	"github.com/Corphon/ManimStudio/internal/storage"
	"github.com/Corphon/ManimStudio/internal/utils"
)

// ArtifactPublisher uploads a finished video and returns its object key and URL
type ArtifactPublisher interface {
	PublishFile(ctx context.Context, runID, localPath string) (string, string, error)
}

// PipelineConfig holds the per-deployment render settings
type PipelineConfig struct {
	Quality         string
	Scene           string
	MaxPromptLength int
}

// PipelineService runs generate, sanitize, persist, render and locate for one prompt
type PipelineService struct {
	generator *GeneratorService
	renderer  renderer.Renderer
	files     *storage.FileStorage
	runs      *RunStore
	publisher ArtifactPublisher
	metrics   *utils.RunMetrics
	logger    *utils.Logger
	cfg       PipelineConfig

	newID func() string
}

func NewPipelineService(
	generator *GeneratorService,
	r renderer.Renderer,
	files *storage.FileStorage,
	runs *RunStore,
	metrics *utils.RunMetrics,
	cfg PipelineConfig,
) *PipelineService {
	if metrics == nil {
		metrics = utils.NewRunMetrics()
	}
	if cfg.Quality == "" {
		cfg.Quality = "l"
	}
	return &PipelineService{
		generator: generator,
		renderer:  r,
		files:     files,
		runs:      runs,
		metrics:   metrics,
		logger:    utils.GetLogger(),
		cfg:       cfg,
		newID:     uuid.NewString,
	}
}

// SetPublisher enables artifact upload after successful renders
func (s *PipelineService) SetPublisher(p ArtifactPublisher) {
	s.publisher = p
}

// ValidatePrompt trims prompt and enforces the length limit
func ValidatePrompt(prompt string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "", apperrors.NewValidationError("prompt must not be empty", nil)
	}
	if maxLength > 0 && utf8.RuneCountInString(trimmed) > maxLength {
		return "", apperrors.NewValidationError(fmt.Sprintf("prompt exceeds %d characters", maxLength), nil)
	}
	return trimmed, nil
}

// Run executes the whole pipeline. Every failure is folded into the result;
// no stage is retried.
func (s *PipelineService) Run(ctx context.Context, prompt string) *models.RunResult {
	prompt, err := ValidatePrompt(prompt, s.cfg.MaxPromptLength)
	if err != nil {
		return &models.RunResult{Status: models.StatusForError(err), Error: err.Error()}
	}

	s.metrics.RunStarted()
	defer s.metrics.RunFinished()

	now := time.Now()
	run := &models.Run{
		ID:        s.newID(),
		Prompt:    prompt,
		Provider:  s.generator.ProviderName(),
		Model:     s.generator.Model(),
		Status:    models.RunStatusPending,
		CreatedAt: now,
	}

	workDir, err := s.files.EnsureDir(run.ID)
	if err != nil {
		return s.finish(run, apperrors.NewProcessingError("prepare run directory", err))
	}
	run.WorkDir = workDir
	s.save(run)

	s.logger.Info("run started", map[string]interface{}{
		"run_id":   run.ID,
		"provider": run.Provider,
		"prompt":   truncate(prompt, 120),
	})

	// generate
	s.transition(run, models.RunStatusGenerating)
	code, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return s.finish(run, err)
	}
	run.GenerationMillis = code.Duration.Milliseconds()
	if code.Model != "" {
		run.Model = code.Model
	}

	// persist
	if err := s.files.SaveTextFile(run.ID, renderer.ScriptName, []byte(code.Sanitized)); err != nil {
		return s.finish(run, apperrors.NewProcessingError("write script", err))
	}
	run.ScriptPath = s.files.Path(run.ID, renderer.ScriptName)
	s.logger.Info("script saved", map[string]interface{}{
		"run_id": run.ID,
		"path":   run.ScriptPath,
		"bytes":  len(code.Sanitized),
	})

	// render
	s.transition(run, models.RunStatusRendering)
	job := renderer.Job{
		RunID:      run.ID,
		WorkDir:    workDir,
		Quality:    s.cfg.Quality,
		Scene:      s.cfg.Scene,
		OutputName: run.ID,
	}
	result, err := s.renderer.Render(ctx, job)
	if result != nil {
		s.recordRender(run, result)
	}
	if err != nil {
		if !apperrors.IsTimeoutError(err) {
			err = apperrors.NewRenderError("render failed", err)
		}
		return s.finish(run, err)
	}
	if result.TimedOut() {
		return s.finish(run, apperrors.NewTimeoutError(fmt.Sprintf("render timed out after %s", result.Duration.Round(time.Second)), nil))
	}
	if result.ExitCode != 0 {
		return s.finish(run, apperrors.NewRenderError(fmt.Sprintf("manim exited with code %d, see %s", result.ExitCode, renderer.LogName), nil))
	}

	// locate
	outputDir, expected := result.OutputDir, result.ExpectedArtifact
	if outputDir == "" {
		outputDir, _ = job.OutputDir()
	}
	if expected == "" {
		expected, _ = job.ExpectedArtifact()
	}
	artifact, err := LocateArtifact(outputDir, expected)
	if err != nil {
		return s.finish(run, err)
	}
	run.ArtifactPath = artifact

	// publish
	if s.publisher != nil {
		key, url, err := s.publisher.PublishFile(ctx, run.ID, artifact)
		if err != nil {
			s.logger.Warn("artifact upload failed", map[string]interface{}{
				"run_id": run.ID,
				"error":  err.Error(),
			})
		} else {
			run.ObjectKey = key
			run.ArtifactURL = url
		}
	}

	return s.finish(run, nil)
}

func (s *PipelineService) recordRender(run *models.Run, result *renderer.Result) {
	run.ExitCode = result.ExitCode
	run.RenderMillis = result.Duration.Milliseconds()
	s.metrics.RecordRender(result.Duration)

	if err := s.files.SaveTextFile(run.ID, renderer.LogName, renderer.FormatLog(result.Stdout, result.Stderr)); err != nil {
		s.logger.Warn("failed to write render log", map[string]interface{}{
			"run_id": run.ID,
			"error":  err.Error(),
		})
	} else {
		run.LogPath = s.files.Path(run.ID, renderer.LogName)
	}

	s.logger.Debug("render stdout", map[string]interface{}{"run_id": run.ID, "stdout": result.Stdout})
	s.logger.Debug("render stderr", map[string]interface{}{"run_id": run.ID, "stderr": result.Stderr})
	s.logger.Info("render finished", map[string]interface{}{
		"run_id":    run.ID,
		"status":    string(result.Status),
		"exit_code": result.ExitCode,
		"duration":  result.Duration.Milliseconds(),
	})
}

func (s *PipelineService) transition(run *models.Run, status models.RunStatus) {
	run.Status = status
	s.save(run)
}

func (s *PipelineService) save(run *models.Run) {
	if err := s.runs.Save(run); err != nil {
		s.logger.Warn("failed to persist run record", map[string]interface{}{
			"run_id": run.ID,
			"error":  err.Error(),
		})
	}
}

func (s *PipelineService) finish(run *models.Run, err error) *models.RunResult {
	run.Status = models.StatusForError(err)
	if err != nil {
		run.Error = err.Error()
		s.logger.Error("run failed", map[string]interface{}{
			"run_id": run.ID,
			"status": string(run.Status),
			"error":  run.Error,
		})
	} else {
		s.logger.Info("run succeeded", map[string]interface{}{
			"run_id":   run.ID,
			"artifact": run.ArtifactPath,
		})
	}
	if run.WorkDir != "" {
		s.save(run)
	}
	s.metrics.RecordRun(string(run.Status))

	return &models.RunResult{
		RunID:        run.ID,
		Status:       run.Status,
		ArtifactPath: run.ArtifactPath,
		ArtifactURL:  run.ArtifactURL,
		Error:        run.Error,
		Run:          run,
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
