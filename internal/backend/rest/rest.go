// Package rest is the HTTP client for the Sales Backend insert API.
// Requests carry a short-lived HS256 terminal token and the sale id as an
// idempotency key; a 409 from the backend means the sale already landed and
// is treated as success.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"dukapos/terminal/internal/backend"
	"dukapos/terminal/internal/domain"
)

const tokenTTL = 5 * time.Minute

type Client struct {
	baseURL    string
	terminalID string
	secret     []byte
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(baseURL string, terminalID string, secret string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		terminalID: terminalID,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type terminalClaims struct {
	jwtlib.RegisteredClaims
	TerminalID string `json:"terminal_id"`
}

// bearerToken returns a cached terminal token, minting a fresh one shortly
// before expiry.
func (c *Client) bearerToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if c.token != "" && now.Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.token, nil
	}

	expiry := now.Add(tokenTTL)
	claims := terminalClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   c.terminalID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiry),
		},
		TerminalID: c.terminalID,
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", err
	}
	c.token = token
	c.tokenExpiry = expiry
	return token, nil
}

func (c *Client) InsertSale(ctx context.Context, sale domain.PendingSale) error {
	payload, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("%w: encode sale %s: %v", backend.ErrRejected, sale.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sales", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sale.ID)
	token, err := c.bearerToken()
	if err != nil {
		return fmt.Errorf("%w: sign terminal token: %v", backend.ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp, sale.ID)
}

func classifyStatus(resp *http.Response, saleID string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already persisted by a previous attempt whose ack we lost.
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: sale %s: status %d", backend.ErrUnavailable, saleID, resp.StatusCode)
	default:
		return fmt.Errorf("%w: sale %s: status %d: %s", backend.ErrRejected, saleID, resp.StatusCode, readErrorBody(resp.Body))
	}
}

func readErrorBody(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil {
		return ""
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend health status %d", resp.StatusCode)
	}
	return nil
}
