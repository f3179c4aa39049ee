package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError is the machine-readable code plus a message for humans.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

const apiVersion = "v1"

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeEnvelope(w, r, status, JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeEnvelope(w, r, status, JSONResponse{Error: &APIError{Code: code, Message: message}})
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, body JSONResponse) {
	body.Meta = &ResponseMeta{Timestamp: time.Now().UTC(), Version: apiVersion}
	body.RequestID = requestIDFrom(r.Context())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeAuthError adapts admin auth failures to the envelope. A 404 hides
// the admin surface when no key is configured.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, status int, err error) {
	code := "unauthorized"
	if status == http.StatusNotFound {
		code = "not_found"
	}
	writeJSONError(w, r, status, code, err.Error())
}

// queryBool accepts true, 1 and yes, case-insensitively.
func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
