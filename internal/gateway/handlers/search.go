package handlers

import (
	"errors"
	"net/http"

	"github.com/tinge-app/tinge/internal/ports"
	"github.com/tinge-app/tinge/internal/upstream"
)

// SearchHandler proxies knowledge-base queries to the search service.
type SearchHandler struct {
	searcher ports.KnowledgeSearcher
}

func NewSearchHandler(searcher ports.KnowledgeSearcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

type searchRequest struct {
	QueryOriginal string `json:"query_original"`
	QueryEn       string `json:"query_en"`
	Language      string `json:"language"`
	TopK          int    `json:"top_k"`
}

func clampTopK(k int) int {
	if k < 1 {
		return 1
	}
	if k > 10 {
		return 10
	}
	return k
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		respondError(w, "not_configured", "Knowledge search is not configured", http.StatusServiceUnavailable)
		return
	}

	req, ok := decodeJSON[searchRequest](r, w)
	if !ok {
		return
	}
	if req.QueryOriginal == "" {
		respondError(w, "invalid_request", "query_original must be a non-empty string", http.StatusBadRequest)
		return
	}

	raw, err := h.searcher.Search(r.Context(), upstream.SearchRequest{
		QueryOriginal: req.QueryOriginal,
		QueryEn:       req.QueryEn,
		Language:      req.Language,
		TopK:          clampTopK(req.TopK),
	})
	if err != nil {
		if errors.Is(err, upstream.ErrSearchTimeout) {
			respondErrorDetail(w, "search_timeout", "Knowledge search timed out", err.Error(), http.StatusGatewayTimeout)
			return
		}
		respondError(w, "search_error", err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}
