package handlers

import (
	"net/http"

	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/gateway/encoding"
	"github.com/tinge-app/tinge/internal/usage"
)

// UsageHandler exposes the token ledger. Responses honor msgpack content
// negotiation since clients poll these endpoints at word rate.
type UsageHandler struct {
	accountant *usage.Accountant
}

func NewUsageHandler(accountant *usage.Accountant) *UsageHandler {
	return &UsageHandler{accountant: accountant}
}

func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := validateURLParam(r, w, "key", "key")
	if !ok {
		return
	}

	snapshot, found := h.accountant.Get(key)
	if !found {
		respondError(w, "not_found", "Unknown credential", http.StatusNotFound)
		return
	}
	encoding.Respond(w, r, snapshot, http.StatusOK)
}

type estimateRequest struct {
	Text          string  `json:"text"`
	AudioDuration float64 `json:"audioDuration"`
}

func (h *UsageHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	key, ok := validateURLParam(r, w, "key", "key")
	if !ok {
		return
	}
	req, ok := decodeJSON[estimateRequest](r, w)
	if !ok {
		return
	}

	if _, found := h.accountant.Get(key); !found {
		respondError(w, "not_found", "Unknown credential", http.StatusNotFound)
		return
	}

	delta := usage.EstimateTokensFromText(req.Text) + usage.EstimateTokensFromAudio(req.AudioDuration)
	snapshot, applied := h.accountant.ApplyEstimate(key, delta)
	if !applied {
		// Tracking disabled: report the unchanged entry.
		snapshot, _ = h.accountant.Get(key)
	}
	encoding.Respond(w, r, snapshot, http.StatusOK)
}

type actualRequest struct {
	UsageData models.UsageReport `json:"usageData"`
}

func (h *UsageHandler) Actual(w http.ResponseWriter, r *http.Request) {
	key, ok := validateURLParam(r, w, "key", "key")
	if !ok {
		return
	}
	req, ok := decodeJSON[actualRequest](r, w)
	if !ok {
		return
	}

	if _, found := h.accountant.Get(key); !found {
		respondError(w, "not_found", "Unknown credential", http.StatusNotFound)
		return
	}

	snapshot, applied := h.accountant.ApplyActual(key, req.UsageData)
	if !applied {
		snapshot, _ = h.accountant.Get(key)
	}
	encoding.Respond(w, r, snapshot, http.StatusOK)
}

func (h *UsageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	encoding.Respond(w, r, h.accountant.Stats(), http.StatusOK)
}
