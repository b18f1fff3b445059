package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
)

const (
	maxBodyBytesSmall int64 = 64 << 10
	maxBodyBytesRun   int64 = 8 << 20
)

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, allowEOF bool) (int, error) {
	if r == nil || r.Body == nil {
		if allowEOF {
			return 0, nil
		}
		return http.StatusBadRequest, fmt.Errorf("request body required")
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if allowEOF && stderrors.Is(err, io.EOF) {
			return 0, nil
		}
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxBytes)
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

func setHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	setHeaders(w)
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

type errorResponse struct {
	Error     string         `json:"error"`
	Status    int            `json:"status"`
	Code      string         `json:"code,omitempty"`
	Details   string         `json:"details,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	response := errorResponse{
		Error:     http.StatusText(status),
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var fleetErr *fleeterrors.Error
	if stderrors.As(err, &fleetErr) {
		response.Code = string(fleetErr.Code)
		if fleetErr.Message != "" {
			response.Error = fleetErr.Message
		}
		if len(fleetErr.Context) > 0 {
			response.Context = fleetErr.Context
		}
		response.Retryable = fleetErr.Retryable
		response.Details = fleetErr.Error()
	} else if err != nil {
		response.Error = err.Error()
	}

	setHeaders(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
