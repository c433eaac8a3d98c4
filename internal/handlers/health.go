package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status       string           `json:"status"` // "healthy" or "degraded"
	Version      string           `json:"version"`
	Checks       map[string]Check `json:"checks"`
	MessageCount int64            `json:"messageCount"`
	Timestamp    string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	// Check message store
	storeStart := time.Now()
	health := h.chat.HealthCheck(ctx)
	if health.StoreReachable {
		checks["store"] = Check{Status: "pass", Latency: time.Since(storeStart).String()}
	} else {
		checks["store"] = Check{Status: "fail", Message: "connection failed"}
		allHealthy = false
	}

	// Check Redis relay, when configured
	if h.relay != nil {
		redisStart := time.Now()
		if err := h.relay.Ping(ctx); err != nil {
			checks["redis"] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
		} else {
			checks["redis"] = Check{Status: "pass", Latency: time.Since(redisStart).String()}
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:       status,
		Version:      version,
		Checks:       checks,
		MessageCount: health.MessageCount,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// Test handles GET /api/test, a plain-text connectivity probe.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	health := h.chat.HealthCheck(r.Context())
	if !health.StoreReachable {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Connection error: %v", health.Err)
		return
	}
	fmt.Fprintf(w, "Connected to message store. Total messages: %d", health.MessageCount)
}
