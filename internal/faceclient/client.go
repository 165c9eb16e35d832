package faceclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// VerifyResult contains 1:1 verification result.
type VerifyResult struct {
	SubjectID  string  `json:"user_id"`
	Verified   bool    `json:"verified"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip answers every verification positively without calling the service.
	Skip bool
	// Threshold, when positive, is sent with each request and also enforced locally.
	Threshold float64
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool, threshold float64) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Skip:      skip,
		Threshold: threshold,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// Verify performs 1:1 face verification of an image against an enrolled subject.
func (c *Client) Verify(ctx context.Context, subjectID, imageURL string) (VerifyResult, error) {
	if c.Skip {
		return VerifyResult{SubjectID: subjectID, Verified: true, Similarity: 0.92, Threshold: c.Threshold}, nil
	}
	if imageURL == "" {
		return VerifyResult{}, fmt.Errorf("image url required")
	}

	payload := map[string]any{"user_id": subjectID, "image_url": imageURL}
	if c.Threshold > 0 {
		payload["threshold"] = c.Threshold
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return VerifyResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return VerifyResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return VerifyResult{}, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return VerifyResult{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.SubjectID == "" {
		out.SubjectID = subjectID
	}
	if c.Threshold > 0 && out.Similarity < c.Threshold {
		out.Verified = false
	}
	return out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
