// Package upstream talks to the Hyperbeam engine API, the remote
// service that actually provisions virtual browser sessions.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/domain"
)

const requestTimeout = 30 * time.Second

// CreateSpec mirrors the engine's VM creation payload.
type CreateSpec struct {
	StartURL        string `json:"start_url"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Kiosk           bool   `json:"kiosk"`
	TimeoutAbsolute int    `json:"-"`
	TimeoutInactive int    `json:"-"`
}

// Provisioned is what the engine hands back for a new session.
type Provisioned struct {
	ID         string `json:"session_id"`
	EmbedURL   string `json:"embed_url"`
	AdminToken string `json:"admin_token"`
}

// StatusError is a non-2xx answer from the engine; the body is kept
// for the caller's error detail.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

type Client struct {
	base string
	hc   *http.Client
}

func NewClient(base string) *Client {
	return &Client{
		base: base,
		hc:   &http.Client{Timeout: requestTimeout},
	}
}

// Create provisions a new virtual browser. Network-level failures wrap
// domain.ErrUpstream; engine-level rejections come back as StatusError.
func (c *Client) Create(ctx context.Context, apiKey string, spec CreateSpec) (Provisioned, error) {
	body := map[string]any{
		"start_url": spec.StartURL,
		"width":     spec.Width,
		"height":    spec.Height,
		"kiosk":     spec.Kiosk,
		"timeout": map[string]int{
			"absolute": spec.TimeoutAbsolute,
			"inactive": spec.TimeoutInactive,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Provisioned{}, fmt.Errorf("marshal create payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/vm", bytes.NewReader(payload))
	if err != nil {
		return Provisioned{}, fmt.Errorf("build create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Error().Str("module", "upstream").Err(err).Msg("create request failed")
		return Provisioned{}, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Provisioned{}, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var out Provisioned
	if err := json.Unmarshal(raw, &out); err != nil {
		return Provisioned{}, fmt.Errorf("decode create response: %w", err)
	}
	return out, nil
}

// Delete tears down the remote session and reports the engine's status
// code. A zero status with a non-nil error means the engine was
// unreachable; callers treat the whole thing as best-effort.
func (c *Client) Delete(ctx context.Context, apiKey, id string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/vm/"+id, nil)
	if err != nil {
		return 0, fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		log.Error().Str("module", "upstream").Str("id", id).Err(err).Msg("delete request failed")
		return 0, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
