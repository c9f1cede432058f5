package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const healthPingTimeout = 2 * time.Second

// HealthHandler reports process liveness. Redis carries the flow state, so a
// failed ping means the broker cannot hold a conversation and the check
// returns 503.
type HealthHandler struct {
	redis   *redis.Client
	service string
}

func NewHealthHandler(client *redis.Client, service string) *HealthHandler {
	if service == "" {
		service = "serviya-broker"
	}
	return &HealthHandler{redis: client, service: service}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	redisStatus := "ok"
	status := http.StatusOK
	if h.redis == nil {
		redisStatus = "not_configured"
	} else if err := h.redis.Ping(ctx).Err(); err != nil {
		redisStatus = "unreachable"
		status = http.StatusServiceUnavailable
	}

	body := map[string]string{
		"status":  "ok",
		"redis":   redisStatus,
		"service": h.service,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
