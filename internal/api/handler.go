// Package api provides HTTP handlers for the digdeeper API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/digdeeper/internal/domain"
	"github.com/ashureev/digdeeper/internal/identity"
	"github.com/ashureev/digdeeper/internal/live"
	"github.com/ashureev/digdeeper/internal/ratelimit"
	"github.com/ashureev/digdeeper/internal/workspace"
	"github.com/containerd/errdefs"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// Publisher fans snapshot updates out to an owner's open tabs.
type Publisher interface {
	Publish(ctx context.Context, ownerID string, ev live.Event) int
}

// Handler provides common handler utilities.
type Handler struct {
	registry *workspace.Registry
	hub      Publisher
	limiter  *ratelimit.Limiter
	health   http.Handler
	validate *validator.Validate
}

// NewHandler creates a new Handler with common dependencies. limiter and
// health may be nil.
func NewHandler(registry *workspace.Registry, hub Publisher, limiter *ratelimit.Limiter, health http.Handler) *Handler {
	return &Handler{
		registry: registry,
		hub:      hub,
		limiter:  limiter,
		health:   health,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorBody is the shape of every error response produced from a Go error.
type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// StatusFor maps an error to its HTTP status and whether the client may
// retry the same request.
func StatusFor(err error) (int, bool) {
	switch {
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable, false
	case domain.IsExternal(err):
		return http.StatusBadGateway, true
	case errdefs.IsNotFound(err):
		return http.StatusNotFound, false
	case errdefs.IsAlreadyExists(err), errdefs.IsAborted(err), errdefs.IsFailedPrecondition(err):
		return http.StatusConflict, false
	case errdefs.IsInvalidArgument(err):
		return http.StatusUnprocessableEntity, false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, true
	default:
		return http.StatusInternalServerError, false
	}
}

// writeError maps err to a status code and writes it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, retryable := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err, "path", r.URL.Path, "owner_id", identity.OwnerIDFromContext(r.Context()))
	} else {
		slog.Debug("request rejected", "error", err, "status", status, "path", r.URL.Path)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	JSON(w, status, errorBody{Error: msg, Retryable: retryable})
}

// decode reads a JSON body into v and validates it. An empty body decodes
// as the zero value. Failures are written to
// w and reported as false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		Error(w, http.StatusUnprocessableEntity, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()[:1])+fe.Field()[1:], fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func owner(r *http.Request) string {
	return identity.OwnerIDFromContext(r.Context())
}

// requireOwner rejects requests that reached the API without an identity.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if owner(r) == "" {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
