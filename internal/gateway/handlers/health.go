package handlers

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	service     string
	environment string
}

func NewHealthHandler(service, environment string) *HealthHandler {
	return &HealthHandler{service: service, environment: environment}
}

func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   h.service,
		"env":       h.environment,
	}, http.StatusOK)
}
