package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(graphURL, loginURL string) *Client {
	return &Client{
		tenantID:     "tenant",
		clientID:     "client",
		clientSecret: "secret",
		mailbox:      "referrals@clinic.example",
		graphURL:     graphURL,
		loginURL:     loginURL,
		httpc:        &http.Client{Timeout: 5 * time.Second},
	}
}

func tokenHandler(calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   3600,
		})
	}
}

func TestAccessToken_Cached(t *testing.T) {
	var calls int32
	login := httptest.NewServer(tokenHandler(&calls))
	defer login.Close()

	c := newTestClient("", login.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tok, err := c.accessToken(ctx)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if tok != "tok-123" {
			t.Fatalf("unexpected token %q", tok)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 token fetch, got %d", got)
	}
}

func TestAccessToken_RefreshNearExpiry(t *testing.T) {
	var calls int32
	login := httptest.NewServer(tokenHandler(&calls))
	defer login.Close()

	c := newTestClient("", login.URL)
	ctx := context.Background()

	if _, err := c.accessToken(ctx); err != nil {
		t.Fatalf("token: %v", err)
	}
	// Inside the early-refresh window.
	c.mu.Lock()
	c.tokenExp = time.Now().Add(2 * time.Minute)
	c.mu.Unlock()

	if _, err := c.accessToken(ctx); err != nil {
		t.Fatalf("token: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected refresh near expiry, got %d fetches", got)
	}
}

func TestListUnread(t *testing.T) {
	var calls int32
	login := httptest.NewServer(tokenHandler(&calls))
	defer login.Close()

	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("unexpected auth header %q", got)
		}
		if !strings.Contains(r.URL.RawQuery, "isRead") {
			t.Errorf("expected unread filter, got %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{
					"id":               "msg-1",
					"conversationId":   "conv-1",
					"subject":          "New PT Referral - John Smith",
					"from":             map[string]any{"emailAddress": map[string]any{"address": "adjuster@carrier.example"}},
					"body":             map[string]any{"content": "<p>Please schedule</p>"},
					"receivedDateTime": time.Now().UTC().Format(time.RFC3339),
					"hasAttachments":   true,
				},
			},
		})
	}))
	defer graph.Close()

	c := newTestClient(graph.URL, login.URL)
	msgs, err := c.ListUnread(context.Background(), time.Now().Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.ID != "msg-1" || m.From != "adjuster@carrier.example" || !m.HasAttachments {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestGetAttachments(t *testing.T) {
	var calls int32
	login := httptest.NewServer(tokenHandler(&calls))
	defer login.Close()

	pdf := []byte("%PDF-1.4 fake")
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{
					"name":         "referral-order.pdf",
					"contentType":  "application/pdf",
					"size":         len(pdf),
					"contentBytes": base64.StdEncoding.EncodeToString(pdf),
				},
				{
					// Inline item attachment with no bytes.
					"name":        "calendar.ics",
					"contentType": "text/calendar",
				},
			},
		})
	}))
	defer graph.Close()

	c := newTestClient(graph.URL, login.URL)
	atts, err := c.GetAttachments(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("attachments: %v", err)
	}
	if len(atts) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(atts))
	}
	if atts[0].Name != "referral-order.pdf" || string(atts[0].Content) != string(pdf) {
		t.Errorf("unexpected attachment %+v", atts[0])
	}
}

func TestMarkRead(t *testing.T) {
	var calls int32
	login := httptest.NewServer(tokenHandler(&calls))
	defer login.Close()

	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer graph.Close()

	c := newTestClient(graph.URL, login.URL)
	if err := c.MarkRead(context.Background(), "msg-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
}

func TestFlattenHTML(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body>
		<p>Patient: John   Smith</p>
		<div>DOB: 3/15/85</div>
		<script>alert(1)</script>
	</body></html>`

	text := FlattenHTML(html)
	if strings.Contains(text, "alert") || strings.Contains(text, "color:red") {
		t.Errorf("expected script/style stripped, got %q", text)
	}
	if !strings.Contains(text, "Patient: John Smith") {
		t.Errorf("expected collapsed whitespace, got %q", text)
	}
	if !strings.Contains(text, "DOB: 3/15/85") {
		t.Errorf("expected div text, got %q", text)
	}
}

func TestFlattenHTML_PlainText(t *testing.T) {
	if got := FlattenHTML("just plain text"); got != "just plain text" {
		t.Errorf("expected pass-through, got %q", got)
	}
}
