// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"advsandbox/internal/auth"
	"advsandbox/internal/logger"
	"advsandbox/pkg/api"
)

// Auth is middleware that resolves the caller from the bearer token.
// Every attack operation is scoped by the resulting caller id.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="advsandbox"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}

		ctx := logger.WithCallerID(r.Context(), auth.CallerID(token))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerIDFromContext extracts the authenticated caller id from the context.
func CallerIDFromContext(ctx context.Context) (string, bool) {
	id := logger.CallerIDFromContext(ctx)
	return id, id != ""
}

// NewContextWithCaller returns a context authenticated as callerID.
func NewContextWithCaller(ctx context.Context, callerID string) context.Context {
	return logger.WithCallerID(ctx, callerID)
}

func writeError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   message,
		Code:    strconv.Itoa(code),
		Details: details,
	})
}
