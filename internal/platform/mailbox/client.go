// Package mailbox reads referral email from a Microsoft Graph mailbox using
// the client-credentials flow. The access token is cached and refreshed
// shortly before it expires.
package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/refcrm/refcrm/internal/config"
)

const (
	graphBase     = "https://graph.microsoft.com/v1.0"
	loginBase     = "https://login.microsoftonline.com"
	tokenEarlyRef = 5 * time.Minute
)

// Message is one mailbox message with enough metadata to drive ingestion.
type Message struct {
	ID             string
	ConversationID string
	Subject        string
	From           string
	BodyHTML       string
	ReceivedAt     time.Time
	HasAttachments bool
}

// Attachment is one file attached to a message.
type Attachment struct {
	Name        string
	ContentType string
	Size        int64
	Content     []byte
}

type Client struct {
	tenantID     string
	clientID     string
	clientSecret string
	mailbox      string
	graphURL     string
	loginURL     string
	httpc        *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func New(cfg *config.Config) *Client {
	return &Client{
		tenantID:     cfg.GraphTenantID,
		clientID:     cfg.GraphClientID,
		clientSecret: cfg.GraphClientSecret,
		mailbox:      cfg.GraphMailbox,
		graphURL:     graphBase,
		loginURL:     loginBase,
		httpc:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp.Add(-tokenEarlyRef)) {
		return c.token, nil
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
		"grant_type":    {"client_credentials"},
	}
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginURL, c.tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting graph token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("graph token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding graph token: %w", err)
	}

	c.token = tok.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphURL+path, nil)
	if err != nil {
		return fmt.Errorf("building graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("calling graph: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("graph returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type graphMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Subject        string `json:"subject"`
	From           struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		Content string `json:"content"`
	} `json:"body"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	HasAttachments   bool      `json:"hasAttachments"`
}

// ListUnread returns up to max unread messages received since the cutoff,
// oldest first.
func (c *Client) ListUnread(ctx context.Context, since time.Time, max int) ([]Message, error) {
	filter := fmt.Sprintf("isRead eq false and receivedDateTime ge %s", since.UTC().Format(time.RFC3339))
	path := fmt.Sprintf("/users/%s/mailFolders/inbox/messages?$filter=%s&$orderby=%s&$top=%d",
		url.PathEscape(c.mailbox), url.QueryEscape(filter), url.QueryEscape("receivedDateTime asc"), max)

	var payload struct {
		Value []graphMessage `json:"value"`
	}
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(payload.Value))
	for _, m := range payload.Value {
		msgs = append(msgs, Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Subject:        m.Subject,
			From:           m.From.EmailAddress.Address,
			BodyHTML:       m.Body.Content,
			ReceivedAt:     m.ReceivedDateTime,
			HasAttachments: m.HasAttachments,
		})
	}
	return msgs, nil
}

// GetAttachments fetches the file attachments of a message. Inline item
// attachments without content bytes are skipped.
func (c *Client) GetAttachments(ctx context.Context, messageID string) ([]Attachment, error) {
	path := fmt.Sprintf("/users/%s/messages/%s/attachments", url.PathEscape(c.mailbox), messageID)

	var payload struct {
		Value []struct {
			Name         string `json:"name"`
			ContentType  string `json:"contentType"`
			Size         int64  `json:"size"`
			ContentBytes string `json:"contentBytes"`
		} `json:"value"`
	}
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	atts := make([]Attachment, 0, len(payload.Value))
	for _, a := range payload.Value {
		if a.ContentBytes == "" {
			continue
		}
		content, err := base64.StdEncoding.DecodeString(a.ContentBytes)
		if err != nil {
			return nil, fmt.Errorf("decoding attachment %s: %w", a.Name, err)
		}
		atts = append(atts, Attachment{
			Name:        a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			Content:     content,
		})
	}
	return atts, nil
}

// MarkRead flags a message as read. Failures are the caller's to log; the
// ingestion pipeline treats this as best-effort.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/users/%s/messages/%s", url.PathEscape(c.mailbox), messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.graphURL+path, strings.NewReader(`{"isRead": true}`))
	if err != nil {
		return fmt.Errorf("building mark-read request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph returned %d marking message read", resp.StatusCode)
	}
	return nil
}
