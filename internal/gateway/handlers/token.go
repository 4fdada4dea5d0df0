package handlers

import (
	"net/http"

	"github.com/tinge-app/tinge/internal/ports"
	"github.com/tinge-app/tinge/internal/upstream"
	"github.com/tinge-app/tinge/internal/usage"
)

// TokenHandler mints ephemeral realtime credentials and registers them in
// the usage ledger.
type TokenHandler struct {
	minter     ports.SessionMinter
	accountant *usage.Accountant
	hasAPIKey  bool
	model      string
	voice      string
}

func NewTokenHandler(minter ports.SessionMinter, accountant *usage.Accountant, hasAPIKey bool, model, voice string) *TokenHandler {
	return &TokenHandler{
		minter:     minter,
		accountant: accountant,
		hasAPIKey:  hasAPIKey,
		model:      model,
		voice:      voice,
	}
}

func (h *TokenHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if !h.hasAPIKey {
		respondError(w, "configuration_error", "API key not configured", http.StatusInternalServerError)
		return
	}

	session, err := h.minter.MintRealtimeSession(r.Context(), h.model, h.voice)
	if err != nil {
		if code, ok := upstream.StatusCode(err); ok {
			switch code {
			case http.StatusUnauthorized:
				respondError(w, "invalid_api_key", "Invalid API key", http.StatusUnauthorized)
			case http.StatusForbidden:
				respondError(w, "no_access", "API key has no access to the realtime API", http.StatusForbidden)
			case http.StatusNotFound:
				respondError(w, "not_found", "Realtime endpoint not found", http.StatusNotFound)
			case http.StatusTooManyRequests:
				respondError(w, "rate_limit", "Rate limit exceeded", http.StatusTooManyRequests)
			default:
				respondError(w, "upstream_error", err.Error(), http.StatusBadGateway)
			}
			return
		}
		respondError(w, "upstream_error", "Invalid response format from session service", http.StatusInternalServerError)
		return
	}

	snapshot := h.accountant.Initialize(session.ClientSecret.Value, 0)

	body := make(map[string]any, len(session.Raw)+1)
	for k, v := range session.Raw {
		body[k] = v
	}
	body["tokenUsage"] = snapshot
	respondJSON(w, body, http.StatusOK)
}
