// Package errors writes API error responses and logs them with the request ID.
package errors

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type body struct {
	Error string `json:"error"`
}

// Write sends a JSON error body with status.
func Write(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Error: message})
}

// InternalError logs err and returns a generic 500 so internals never reach
// the client.
func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	Write(w, http.StatusInternalServerError, "internal server error")
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	logf(r, "[WARN]", "bad request: %v", err)
	Write(w, http.StatusBadRequest, clientMessage)
}

func NotFoundError(w http.ResponseWriter, r *http.Request, what string) {
	Write(w, http.StatusNotFound, what+" not found")
}

func LogError(r *http.Request, message string, err error) {
	logf(r, "[ERROR]", "%s: %v", message, err)
}

func LogInfo(r *http.Request, message string) {
	logf(r, "[INFO]", "%s", message)
}

func logf(r *http.Request, level, format string, args ...any) {
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		log.Printf(level+" RequestID=%s: "+format, append([]any{requestID}, args...)...)
		return
	}
	log.Printf(level+" "+format, args...)
}
