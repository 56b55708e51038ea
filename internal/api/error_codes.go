// internal/api/error_codes.go
package api

import (
	"net/http"

	"github.com/Corphon/ManimStudio/internal/models"
)

// API error codes
const (
	// generic
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// pipeline
	ErrorValidation       = "VALIDATION_ERROR"
	ErrorGenerationFailed = "GENERATION_FAILED"
	ErrorRenderFailed     = "RENDER_FAILED"
	ErrorRenderTimedOut   = "RENDER_TIMED_OUT"
	ErrorArtifactNotFound = "ARTIFACT_NOT_FOUND"

	// runs
	ErrorRunNotFound   = "RUN_NOT_FOUND"
	ErrorVideoNotFound = "VIDEO_NOT_FOUND"
	ErrorRunInProgress = "RUN_IN_PROGRESS"

	// health
	ErrorServiceUnhealthy = "SERVICE_UNHEALTHY"
)

// statusForRun maps a terminal run status onto the HTTP status and error code
// returned by the JSON API. Succeeded runs have no error code.
func statusForRun(status models.RunStatus) (int, string) {
	switch status {
	case models.RunStatusSucceeded:
		return http.StatusOK, ""
	case models.RunStatusRejected:
		return http.StatusBadRequest, ErrorValidation
	case models.RunStatusGenerationFailed:
		return http.StatusUnprocessableEntity, ErrorGenerationFailed
	case models.RunStatusRenderTimedOut:
		return http.StatusGatewayTimeout, ErrorRenderTimedOut
	case models.RunStatusArtifactNotFound:
		return http.StatusUnprocessableEntity, ErrorArtifactNotFound
	case models.RunStatusRenderFailed:
		return http.StatusUnprocessableEntity, ErrorRenderFailed
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
