// Package biometric consumes the external face verification service. The
// engine only ever sees the boolean verdict; encodings and similarity math
// stay on the other side of this boundary.
package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Verifier is the contract the registration flow depends on.
type Verifier interface {
	Verify(ctx context.Context, studentID, imageURL string) (bool, error)
}

// Client calls the face verification microservice over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. skip short-circuits every verification to true for
// local development without the face service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face matching can take a while
		},
	}
}

type verifyRequest struct {
	UserID   string `json:"user_id"`
	ImageURL string `json:"image_url"`
}

type verifyResponse struct {
	Verified   bool    `json:"verified"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
}

// Verify submits the student's selfie URL for 1:1 verification and returns
// the service's verdict.
func (c *Client) Verify(ctx context.Context, studentID, imageURL string) (bool, error) {
	if c.Skip {
		return true, nil
	}

	payload, err := json.Marshal(verifyRequest{UserID: studentID, ImageURL: imageURL})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("biometric: verify request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("biometric: verify failed (%d)", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("biometric: decode response failed: %w", err)
	}
	return out.Verified, nil
}

// Health probes the service.
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
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("biometric: unhealthy (%d)", resp.StatusCode)
	}
	return nil
}
