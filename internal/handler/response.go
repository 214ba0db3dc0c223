package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/backend"
	"github.com/angeloszaimis/api-gateway/internal/proxy"
)

type envelope struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message,omitempty"`
	Data              any       `json:"data,omitempty"`
	Error             string    `json:"error,omitempty"`
	Service           string    `json:"service,omitempty"`
	Code              string    `json:"code,omitempty"`
	AvailableServices []string  `json:"availableServices,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, errMsg, message string) {
	writeJSON(w, status, envelope{
		Error:     errMsg,
		Message:   message,
		Timestamp: time.Now(),
	})
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	writeError(w, http.StatusRequestEntityTooLarge, "Request body too large",
		fmt.Sprintf("The request body must not exceed %d bytes", limit))
}

// writeRouteError maps dispatch errors onto gateway responses.
func writeRouteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		notFound    *backend.ServiceNotFoundError
		unavailable *proxy.ServiceUnavailableError
		unreachable *proxy.UpstreamUnreachableError
		tooLarge    *http.MaxBytesError
	)

	switch {
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			Error:             "Service not found",
			Message:           err.Error(),
			Service:           notFound.Name,
			AvailableServices: notFound.Available,
			Timestamp:         time.Now(),
		})

	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			Error:     "Service temporarily unavailable",
			Message:   "The service is failing and has been isolated, retry later",
			Service:   unavailable.Service,
			Timestamp: time.Now(),
		})

	case errors.As(err, &unreachable):
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			Error:     "Service unavailable",
			Message:   "The service could not be reached",
			Service:   unreachable.Service,
			Code:      unreachable.Code,
			Timestamp: time.Now(),
		})

	case errors.As(err, &tooLarge):
		writeTooLarge(w, tooLarge.Limit)

	default:
		logger.Error("Request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Internal gateway error", "An unexpected error occurred")
	}
}
