// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints.
// Every response is wrapped in a status envelope so clients can branch on one
// field regardless of endpoint:
//
// Success:
//
//	HTTP/1.1 200 OK
//	{ "status": "success", "data": { ... } }
//
// Failure:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "status": "error",
//	  "code": "not_found",
//	  "message": "session not found",
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000"
//	}
//
// Conventions:
//   - All error responses carry a stable machine-readable `code`
//     (see errors.go constants) alongside the human-readable message.
//   - `fail()` centralizes error formatting and ensures 5xx responses are
//     logged with request context.
//   - Validation failures additionally carry an `errors` array with
//     per-field details.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-telegram-backend/internal/http/middleware"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Status string `json:"status" example:"success"`
	Data   any    `json:"data,omitempty"`
}

// FieldError describes a single validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - Status: always "error".
//   - Code: a stable, machine-readable string (see errors.go constants).
//   - Message: a human-readable error description, safe for display.
//   - Errors: per-field details for validation failures, omitted otherwise.
//   - RequestID: optional correlation ID echoed from X-Request-ID.
type ErrorResponse struct {
	Status    string       `json:"status" example:"error"`
	Code      string       `json:"code" example:"not_found"`
	Message   string       `json:"message" example:"session not found"`
	Errors    []FieldError `json:"errors,omitempty"`
	RequestID string       `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// fail aborts the request with a structured error envelope.
//
// Server errors (>=500) are logged using the request-scoped logger from
// middleware before the response is written.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, code, msg, nil)
}

// failWith is fail with per-field validation details attached.
func failWith(c *gin.Context, status int, code, msg string, fields []FieldError) {
	resp := ErrorResponse{
		Status:    "error",
		Code:      code,
		Message:   msg,
		Errors:    fields,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success envelope with the given payload.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, SuccessResponse{Status: "success", Data: body})
}
