// Package httperr translates service errors into JSON error responses.
//
// Every error body has the shape
//
//	{"error": {"code": "...", "message": "...", "fields": [...]}}
//
// Storage faults are logged with their cause and reported to the client with a generic
// message only.
package httperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/license-console/license-console/internal/services"
	"github.com/license-console/license-console/internal/validation"
)

// Error codes
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeForbidden    = "FORBIDDEN"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL_ERROR"
)

// Body is the "error" member of an error response
type Body struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

// Status returns the HTTP status for a service error kind
func Status(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func code(kind services.Kind) string {
	switch kind {
	case services.KindValidation:
		return CodeValidation
	case services.KindNotFound:
		return CodeNotFound
	case services.KindConflict:
		return CodeConflict
	case services.KindForbidden:
		return CodeForbidden
	}
	return CodeInternal
}

// Write sends an error response with the given status and body
func Write(c *gin.Context, status int, body Body) {
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

// Respond writes err as a JSON error response
func Respond(c *gin.Context, err error) {
	kind := services.KindOf(err)
	status := Status(kind)

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		slog.Error("request failed",
			"error", err,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString("request_id"),
		)
		Write(c, status, Body{Code: CodeInternal, Message: "internal server error"})
		return
	}

	body := Body{Code: code(kind), Message: err.Error()}
	var se *services.Error
	if errors.As(err, &se) {
		body.Message = se.Message
		body.Fields = se.Fields
	}
	Write(c, status, body)
}

// BindError reports a request body or query string that failed to bind
func BindError(c *gin.Context, err error) {
	body := Body{Code: CodeValidation, Message: "invalid input"}
	if fe, ok := validation.FromError(err).(validation.FieldErrors); ok {
		body.Fields = fe
	}
	Write(c, http.StatusBadRequest, body)
}

// Validation reports a single invalid field found by a handler
func Validation(c *gin.Context, field, message string) {
	Write(c, http.StatusBadRequest, Body{
		Code:    CodeValidation,
		Message: "invalid input",
		Fields:  []validation.FieldError{{Field: field, Message: message}},
	})
}
