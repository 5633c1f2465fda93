// Package api is the HTTP adapter of the dispatcher. Errors are RFC 7807
// problem details.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/WENOTFLY/TGP-ASTRO/pkg/experts"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/quota"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/registry"
	"github.com/WENOTFLY/TGP-ASTRO/pkg/seed"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID is the X-Request-ID of the request.
	TraceID string `json:"trace_id,omitempty"`
	// Field names the rejected input of a validation problem.
	Field string `json:"field,omitempty"`
	// Code is a stable machine-readable reason.
	Code string `json:"code,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int) string {
	return fmt.Sprintf("/problems/%d", status)
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     problemType(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteDomainError maps dispatcher errors to problem responses: invalid
// input 422, missing allowance 402, flood and daily cap 429, a concurrent
// run 409, unknown expert or product 404. Anything else is a 500.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	p := &ProblemDetail{
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
		Detail:   err.Error(),
	}
	var (
		verr  *experts.ValidationError
		flood *quota.FloodError
	)
	switch {
	case errors.As(err, &verr):
		p.Status, p.Title, p.Code, p.Field = http.StatusUnprocessableEntity, "Invalid Input", "validation", verr.Field
	case errors.Is(err, seed.ErrInsufficientPool):
		p.Status, p.Title, p.Code = http.StatusUnprocessableEntity, "Invalid Input", "insufficient_pool"
	case errors.Is(err, quota.ErrNoEntitlement):
		p.Status, p.Title, p.Code = http.StatusPaymentRequired, "Payment Required", "no_entitlement"
	case errors.Is(err, quota.ErrInsufficientQuota):
		p.Status, p.Title, p.Code = http.StatusPaymentRequired, "Payment Required", "insufficient_quota"
	case errors.As(err, &flood):
		secs := int(math.Ceil(flood.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
		p.Status, p.Title, p.Code = http.StatusTooManyRequests, "Too Many Requests", "too_frequent"
	case errors.Is(err, quota.ErrDailyCapExceeded):
		p.Status, p.Title, p.Code = http.StatusTooManyRequests, "Too Many Requests", "daily_cap"
	case errors.Is(err, quota.ErrParallelismExceeded):
		p.Status, p.Title, p.Code = http.StatusConflict, "Conflict", "in_flight"
	case errors.Is(err, registry.ErrExpertNotFound), errors.Is(err, experts.ErrUnknownExpert):
		p.Status, p.Title, p.Code = http.StatusNotFound, "Not Found", "unknown_expert"
	case errors.Is(err, quota.ErrUnknownProduct):
		p.Status, p.Title, p.Code = http.StatusNotFound, "Not Found", "unknown_product"
	default:
		slog.ErrorContext(r.Context(), "internal server error", "error", err, "path", r.URL.Path)
		p.Status, p.Title = http.StatusInternalServerError, "Internal Server Error"
		p.Detail = "An unexpected error occurred. Please try again later."
	}
	p.Type = problemType(p.Status)
	writeProblem(w, p)
}
