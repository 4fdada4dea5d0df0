package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tinge-app/tinge/internal/adapters/retry"
	"github.com/tinge-app/tinge/internal/metrics"
)

// ErrSearchTimeout marks a knowledge search that exceeded its deadline.
var ErrSearchTimeout = errors.New("knowledge search timed out")

// SearchRequest is the query forwarded to the knowledge search service.
type SearchRequest struct {
	QueryOriginal string `json:"query_original"`
	QueryEn       string `json:"query_en"`
	Language      string `json:"language,omitempty"`
	TopK          int    `json:"top_k"`
}

// SearchClient proxies queries to the knowledge search service. Searches are
// never retried: the caller's latency budget cannot absorb a second attempt.
type SearchClient struct {
	client       *Client
	timeout      time.Duration
	forceEnglish bool
}

// NewSearchClient builds a search client for baseURL with a per-request
// deadline.
func NewSearchClient(baseURL string, timeout time.Duration, forceEnglish bool) *SearchClient {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &SearchClient{
		client:       NewClient(baseURL, "", "search").WithRetryConfig(retry.NoRetry()).WithTimeout(timeout),
		timeout:      timeout,
		forceEnglish: forceEnglish,
	}
}

// Search forwards the query and returns the raw upstream response body so
// the gateway can pass it through without reshaping. A deadline hit returns
// ErrSearchTimeout; other upstream failures surface as-is.
func (s *SearchClient) Search(ctx context.Context, req SearchRequest) (json.RawMessage, error) {
	if req.QueryEn == "" {
		req.QueryEn = req.QueryOriginal
	}
	if s.forceEnglish {
		req.Language = "en"
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var raw json.RawMessage
	if err := s.client.PostJSON(ctx, "/search", req, &raw); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.SearchRequestsTotal.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: no response after %dms", ErrSearchTimeout, s.timeout.Milliseconds())
		}
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
	return raw, nil
}
