package handlers

import (
	"errors"
	"net/http"

	"github.com/tinge-app/tinge/internal/adapters/id"
	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/ports"
	"github.com/tinge-app/tinge/internal/upstream"
)

// CorrectionHandler validates detected language corrections against a
// completion model.
type CorrectionHandler struct {
	verifier  ports.CorrectionVerifier
	hasAPIKey bool
}

func NewCorrectionHandler(verifier ports.CorrectionVerifier, hasAPIKey bool) *CorrectionHandler {
	return &CorrectionHandler{verifier: verifier, hasAPIKey: hasAPIKey}
}

type verifyRequest struct {
	CorrectionID        string `json:"correction_id"`
	Original            string `json:"original"`
	Corrected           string `json:"corrected"`
	CorrectionType      string `json:"correction_type"`
	LearnerLevel        string `json:"learner_level"`
	ConversationContext string `json:"conversation_context"`
}

type verifyResponse struct {
	CorrectionID string  `json:"correction_id"`
	Mistake      string  `json:"mistake"`
	Correction   string  `json:"correction"`
	Rule         string  `json:"rule"`
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	IsAmbiguous  bool    `json:"is_ambiguous"`
	VerifiedAt   string  `json:"verified_at"`
	Model        string  `json:"model"`
}

func (h *CorrectionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if !h.hasAPIKey {
		respondError(w, "configuration_error", "API key not configured", http.StatusInternalServerError)
		return
	}

	req, ok := decodeJSON[verifyRequest](r, w)
	if !ok {
		return
	}
	if req.Original == "" || req.Corrected == "" {
		respondError(w, "invalid_request", "original and corrected are required", http.StatusBadRequest)
		return
	}
	if !models.ValidCorrectionType(req.CorrectionType) {
		respondError(w, "invalid_request", "correction_type must be one of grammar, vocabulary, pronunciation, style_register", http.StatusBadRequest)
		return
	}

	verdict, err := h.verifier.Verify(r.Context(), upstream.VerifyRequest{
		Original:            req.Original,
		Corrected:           req.Corrected,
		CorrectionType:      req.CorrectionType,
		LearnerLevel:        req.LearnerLevel,
		ConversationContext: req.ConversationContext,
	})
	if err != nil {
		switch {
		case errors.Is(err, upstream.ErrVerifyTimeout):
			respondError(w, "verify_timeout", "Correction verification timed out", http.StatusGatewayTimeout)
		default:
			if code, ok := upstream.StatusCode(err); ok && code == http.StatusTooManyRequests {
				respondError(w, "rate_limit", "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			respondError(w, "verify_error", err.Error(), http.StatusBadGateway)
		}
		return
	}

	correctionID := req.CorrectionID
	if correctionID == "" {
		correctionID = id.NewCorrection()
	}
	respondJSON(w, verifyResponse{
		CorrectionID: correctionID,
		Mistake:      verdict.Mistake,
		Correction:   verdict.Correction,
		Rule:         verdict.Rule,
		Category:     verdict.Category,
		Confidence:   verdict.Confidence,
		IsAmbiguous:  verdict.IsAmbiguous,
		VerifiedAt:   verdict.VerifiedAt,
		Model:        verdict.Model,
	}, http.StatusOK)
}
