// internal/api/response_helpers.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ManimStudio/internal/utils"
)

// APIResponse is the envelope for every JSON response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError is the error part of the envelope
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper writes APIResponse envelopes
type ResponseHelper struct {
	// Debug exposes internal error details to clients
	Debug bool
}

func NewResponseHelper(debug bool) *ResponseHelper {
	return &ResponseHelper{Debug: debug}
}

// Success writes a 200 response
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(http.StatusOK, response)
}

// Error writes a failed response with the given status and code
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	rh.Failure(c, statusCode, errorCode, message, nil, details...)
}

// Failure is Error with a data payload, used when the caller still needs the result body
func (rh *ResponseHelper) Failure(c *gin.Context, statusCode int, errorCode, message string, data interface{}, details ...string) {
	apiErr := &APIError{
		Code:    errorCode,
		Message: message,
	}
	if len(details) > 0 {
		apiErr.Details = details[0]
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Data:      data,
		Error:     apiErr,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

func (rh *ResponseHelper) NotFound(c *gin.Context, code, message string) {
	rh.Error(c, http.StatusNotFound, code, message)
}

// InternalError logs err and hides it from the client unless Debug is set
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, err error) {
	fields := map[string]interface{}{
		"request_id": rh.getRequestID(c),
		"path":       c.Request.URL.Path,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	utils.GetLogger().Error(message, fields)

	if rh.Debug && err != nil {
		rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, err.Error())
		return
	}
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message)
}

func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
