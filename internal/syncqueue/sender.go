package syncqueue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"rollcall/internal/attendance"
	"rollcall/internal/logging"
	"rollcall/internal/syncingest"
)

// RecordsPath is the ingest endpoint on the upstream node.
const RecordsPath = "/v1/sync/records"

// TokenSource supplies bearer tokens for outbound calls.
type TokenSource interface {
	Token() (string, error)
}

// HTTPSender posts batches to an upstream node's ingest endpoint.
type HTTPSender struct {
	url    string
	tokens TokenSource
	client *http.Client
	cb     *gobreaker.CircuitBreaker[[]syncingest.Result]
}

// SenderOption configures an HTTPSender.
type SenderOption func(*HTTPSender)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) SenderOption { return func(s *HTTPSender) { s.client = c } }

// NewHTTPSender targets upstream (scheme://host[:port]). tokens may be nil.
func NewHTTPSender(upstream string, tokens TokenSource, opts ...SenderOption) *HTTPSender {
	s := &HTTPSender{
		url:    strings.TrimRight(upstream, "/") + RecordsPath,
		tokens: tokens,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cb = gobreaker.NewCircuitBreaker[[]syncingest.Result](gobreaker.Settings{
		Name:        "sync-upstream",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger("syncqueue").Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return s
}

// Send posts the batch as a JSON array and decodes {"results": [...]}.
func (s *HTTPSender) Send(ctx context.Context, recs []attendance.Record) ([]syncingest.Result, error) {
	results, err := s.cb.Execute(func() ([]syncingest.Result, error) {
		return s.post(ctx, recs)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("upstream unavailable: %w", err)
	}
	return results, err
}

func (s *HTTPSender) post(ctx context.Context, recs []attendance.Record) ([]syncingest.Result, error) {
	body, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.tokens != nil {
		token, err := s.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("mint sync token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sync upstream error %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Results []syncingest.Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode sync response: %w", err)
	}
	return out.Results, nil
}
