// Package filemaker submits finalized intake records to the FileMaker Data
// API. Session tokens are valid for 15 minutes and are refreshed 5 minutes
// before expiry.
package filemaker

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

	"github.com/refcrm/refcrm/internal/config"
)

const (
	sessionLifetime = 15 * time.Minute
	sessionEarlyRef = 5 * time.Minute
)

type Client struct {
	host     string
	database string
	layout   string
	user     string
	password string
	httpc    *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func New(cfg *config.Config) *Client {
	return &Client{
		host:     strings.TrimRight(cfg.FileMakerHost, "/"),
		database: cfg.FileMakerDatabase,
		layout:   cfg.FileMakerLayout,
		user:     cfg.FileMakerUser,
		password: cfg.FileMakerPassword,
		httpc:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp.Add(-sessionEarlyRef)) {
		return c.token, nil
	}

	endpoint := fmt.Sprintf("%s/fmi/data/v1/databases/%s/sessions", c.host, c.database)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return "", fmt.Errorf("building session request: %w", err)
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("opening filemaker session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("filemaker session endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload struct {
		Response struct {
			Token string `json:"token"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding filemaker session: %w", err)
	}
	if payload.Response.Token == "" {
		return "", fmt.Errorf("filemaker session response had no token")
	}

	c.token = payload.Response.Token
	c.tokenExp = time.Now().Add(sessionLifetime)
	return c.token, nil
}

// CreateRecord submits one intake record and returns the FileMaker record id.
func (c *Client) CreateRecord(ctx context.Context, fields map[string]string) (string, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]any{"fieldData": fields})
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}

	endpoint := fmt.Sprintf("%s/fmi/data/v1/databases/%s/layouts/%s/records", c.host, c.database, c.layout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building record request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("creating filemaker record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("filemaker record endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload struct {
		Response struct {
			RecordID string `json:"recordId"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding filemaker record response: %w", err)
	}
	return payload.Response.RecordID, nil
}
