// internal/models/run.go
package models

import (
	"strings"
	"time"

	apperrors "github.com/Corphon/ManimStudio/internal/errors"
)

// RunStatus is the state of a single render request
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusGenerating RunStatus = "generating"
	RunStatusRendering  RunStatus = "rendering"

	// terminal states
	RunStatusSucceeded        RunStatus = "succeeded"
	RunStatusGenerationFailed RunStatus = "generation_failed"
	RunStatusRenderFailed     RunStatus = "render_failed"
	RunStatusRenderTimedOut   RunStatus = "render_timed_out"
	RunStatusArtifactNotFound RunStatus = "artifact_not_found"

	// the prompt was refused before a run was allocated
	RunStatusRejected RunStatus = "rejected"
)

// Terminal reports whether no further stage will run
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusGenerationFailed, RunStatusRenderFailed,
		RunStatusRenderTimedOut, RunStatusArtifactNotFound, RunStatusRejected:
		return true
	}
	return false
}

// StatusForError maps a stage error onto the terminal status it produces
func StatusForError(err error) RunStatus {
	switch apperrors.TypeOf(err) {
	case "":
		return RunStatusSucceeded
	case apperrors.ErrorTypeValidation:
		return RunStatusRejected
	case apperrors.ErrorTypeGeneration:
		return RunStatusGenerationFailed
	case apperrors.ErrorTypeTimeout:
		return RunStatusRenderTimedOut
	case apperrors.ErrorTypeArtifactNotFound:
		return RunStatusArtifactNotFound
	default:
		return RunStatusRenderFailed
	}
}

// Run is the persisted record of one request, stored as run.json in its work directory
type Run struct {
	ID       string    `json:"id"`
	Prompt   string    `json:"prompt"`
	Provider string    `json:"provider"`
	Model    string    `json:"model,omitempty"`
	Status   RunStatus `json:"status"`

	WorkDir      string `json:"work_dir"`
	ScriptPath   string `json:"script_path,omitempty"`
	LogPath      string `json:"log_path,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	ObjectKey    string `json:"object_key,omitempty"`
	ArtifactURL  string `json:"artifact_url,omitempty"`

	ExitCode int64  `json:"exit_code"`
	Error    string `json:"error,omitempty"`

	GenerationMillis int64 `json:"generation_ms"`
	RenderMillis     int64 `json:"render_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunResult is what the request handler hands back to callers
type RunResult struct {
	RunID        string    `json:"run_id"`
	Status       RunStatus `json:"status"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	ArtifactURL  string    `json:"artifact_url,omitempty"`
	Error        string    `json:"error,omitempty"`
	Run          *Run      `json:"run,omitempty"`
}

// Succeeded reports whether an artifact was produced
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Status == RunStatusSucceeded
}

// Message flattens the result into the single string shown by the UI:
// the artifact path, or "Error: ..." on any failure.
func (r *RunResult) Message() string {
	if r == nil {
		return "Error: no result"
	}
	if r.Succeeded() {
		return r.ArtifactPath
	}
	msg := strings.TrimSpace(r.Error)
	if msg == "" {
		msg = string(r.Status)
	}
	return "Error: " + msg
}
