// Package handler contains the HTTP handlers. Handlers parse requests, call
// one service method, and translate the result (or apperror) into JSON.
package handler

// RESPONSE HELPERS:
// Every error response from the API has the same shape:
//
//	{"error": "not_connected", "message": "gmail is not connected; connect it from settings first"}
//
// "error" is machine-readable and stable; "message" is safe to show users.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/revtrack/internal/apperror"
	"github.com/sakif/revtrack/internal/auth"
	"github.com/sakif/revtrack/internal/mail"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorMapping is checked in order; the mail sentinels come first because
// they are more specific than the generic ones.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{apperror.ErrNotConnected, http.StatusNotFound, "not_connected"},
	{apperror.ErrAuthExpired, http.StatusUnauthorized, "auth_expired"},
	{apperror.ErrProvider, http.StatusBadGateway, "provider_error"},
	{apperror.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
}

// writeError maps a service error to its HTTP status. Anything that is not
// an *apperror.AppError is logged and reported as a generic 500; raw error
// text may contain SQL or file paths and never reaches the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, m := range errorMapping {
			if errors.Is(err, m.target) {
				if m.status >= http.StatusInternalServerError || appErr.Cause != nil {
					logger.Warn("request failed",
						slog.String("code", m.code),
						slog.String("error", err.Error()),
					)
				}
				writeJSON(w, m.status, ErrorResponse{Error: m.code, Message: appErr.Message, Field: appErr.Field})
				return
			}
		}
	}

	logger.Error("internal error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "an internal error occurred",
	})
}

// decodeJSON reads a bounded JSON body into v. Any failure becomes a
// validation error naming the body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "request body is required")
		}
		return apperror.ValidationFailed("body", "request body must be valid JSON")
	}
	return nil
}

// requestUserID returns the authenticated user. Routes using it sit behind
// auth.RequireAuth, so a miss means the router is misconfigured.
func requestUserID(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthenticated("valid authentication required")
	}
	return id, nil
}

// providerParam resolves the {provider} URL segment.
func providerParam(r *http.Request) (mail.ProviderName, error) {
	raw := chi.URLParam(r, "provider")
	name, ok := mail.ParseProviderName(raw)
	if !ok {
		return "", &apperror.AppError{Err: apperror.ErrNotFound, Message: "unknown mail provider " + strconv.Quote(raw)}
	}
	return name, nil
}

// intQuery parses an optional integer query parameter.
func intQuery(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(key, key+" must be an integer")
	}
	return n, nil
}
