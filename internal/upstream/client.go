// Package upstream holds the HTTP clients for the model service and the
// knowledge search service.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/tinge-app/tinge/internal/adapters/circuitbreaker"
	"github.com/tinge-app/tinge/internal/adapters/retry"
	"github.com/tinge-app/tinge/internal/metrics"
)

// StatusError carries a non-2xx upstream response so handlers can map the
// status code onto their own error contract.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, string(e.Body))
}

// StatusCode extracts the HTTP status from an error chain, if any.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// Client is a JSON/multipart HTTP client with retry and a circuit breaker.
// The breaker only counts connectivity failures: any HTTP response, even an
// error status, means the upstream is reachable.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	service     string
	retryConfig retry.BackoffConfig
	breaker     *circuitbreaker.CircuitBreaker
}

// NewClient builds a client for baseURL. An empty apiKey sends no
// Authorization header. service labels the upstream request metrics.
func NewClient(baseURL, apiKey, service string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:     baseURL,
		apiKey:      apiKey,
		service:     service,
		retryConfig: retry.DefaultConfig(),
		breaker: circuitbreaker.New(5, 30*time.Second).WithFailureClassifier(func(err error) bool {
			_, hasStatus := StatusCode(err)
			return !hasStatus
		}),
	}
}

// WithRetryConfig overrides the retry policy, e.g. retry.NoRetry() for calls
// whose latency budget cannot absorb a second attempt.
func (c *Client) WithRetryConfig(cfg retry.BackoffConfig) *Client {
	c.retryConfig = cfg
	return c
}

// WithTimeout overrides the per-request HTTP timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.httpClient.Timeout = d
	return c
}

func (c *Client) do(ctx context.Context, method, endpoint string, contentType string, body func() (io.Reader, string, error), response any) error {
	var respBody []byte

	start := time.Now()
	var finalStatus int
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(c.service, strconv.Itoa(finalStatus)).Observe(time.Since(start).Seconds())
	}()

	run := func() error {
		return retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
			var reader io.Reader
			ct := contentType
			if body != nil {
				var err error
				// The body is rebuilt for every attempt so multipart
				// payloads survive retries.
				reader, ct, err = body()
				if err != nil {
					return 0, err
				}
			}

			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
			if err != nil {
				return 0, fmt.Errorf("failed to create request: %w", err)
			}
			if ct != "" {
				req.Header.Set("Content-Type", ct)
			}
			if c.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return 0, fmt.Errorf("failed to send request: %w", err)
			}
			defer resp.Body.Close()

			finalStatus = resp.StatusCode
			respBody, err = io.ReadAll(resp.Body)
			if err != nil {
				return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: respBody}
			}
			return resp.StatusCode, nil
		})
	}

	if err := c.breaker.Execute(run); err != nil {
		return err
	}

	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// PostJSON marshals payload and decodes the JSON response into response.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload, response any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, "application/json", func() (io.Reader, string, error) {
		return bytes.NewReader(jsonData), "application/json", nil
	}, response)
}

// PostMultipart posts a multipart form with fields and one file part.
func (c *Client) PostMultipart(ctx context.Context, endpoint string, fields map[string]string, fileField, fileName string, fileData []byte, response any) error {
	return c.do(ctx, http.MethodPost, endpoint, "", func() (io.Reader, string, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)

		for key, val := range fields {
			if err := writer.WriteField(key, val); err != nil {
				return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
			}
		}

		if fileField != "" && fileData != nil {
			part, err := writer.CreateFormFile(fileField, fileName)
			if err != nil {
				return nil, "", fmt.Errorf("failed to create form file: %w", err)
			}
			if _, err := part.Write(fileData); err != nil {
				return nil, "", fmt.Errorf("failed to write file data: %w", err)
			}
		}

		if err := writer.Close(); err != nil {
			return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
		}
		return &buf, writer.FormDataContentType(), nil
	}, response)
}

// Get decodes the JSON response of a GET request into response.
func (c *Client) Get(ctx context.Context, endpoint string, response any) error {
	return c.do(ctx, http.MethodGet, endpoint, "", nil, response)
}
