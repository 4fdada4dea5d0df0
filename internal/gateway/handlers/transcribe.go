package handlers

import (
	"io"
	"net/http"

	"github.com/tinge-app/tinge/internal/domain/models"
	"github.com/tinge-app/tinge/internal/ports"
)

const maxAudioUpload = 25 << 20 // 25MB, matches the upstream file limit

// TranscribeHandler proxies recorded audio to the transcription service and
// reshapes the result to {words, fullText}.
type TranscribeHandler struct {
	transcriber ports.Transcriber
	model       string
	hasAPIKey   bool
}

func NewTranscribeHandler(transcriber ports.Transcriber, model string, hasAPIKey bool) *TranscribeHandler {
	return &TranscribeHandler{transcriber: transcriber, model: model, hasAPIKey: hasAPIKey}
}

type transcribeResponse struct {
	Words    []models.WordTiming `json:"words"`
	FullText string              `json:"fullText"`
}

func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if !h.hasAPIKey {
		respondError(w, "configuration_error", "API key not configured", http.StatusInternalServerError)
		return
	}

	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		respondError(w, "invalid_request", "Expected multipart form with an audio file", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "invalid_request", "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "invalid_request", "Failed to read audio payload", http.StatusBadRequest)
		return
	}

	result, err := h.transcriber.Transcribe(r.Context(), h.model, header.Filename, audio)
	if err != nil {
		respondError(w, "transcription_error", err.Error(), http.StatusInternalServerError)
		return
	}

	words := result.Words
	if words == nil {
		words = []models.WordTiming{}
	}
	respondJSON(w, transcribeResponse{Words: words, FullText: result.Text}, http.StatusOK)
}
