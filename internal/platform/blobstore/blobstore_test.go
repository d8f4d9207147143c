package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	body := "<html><body>referral</body></html>"
	if err := m.Put(ctx, "referrals/abc/email.html", strings.NewReader(body), int64(len(body)), "text/html"); err != nil {
		t.Fatalf("put: %v", err)
	}

	rc, err := m.Get(ctx, "referrals/abc/email.html")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != body {
		t.Errorf("expected %q, got %q", body, string(data))
	}
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), "referrals/nope/email.html")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ListPrefix(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	keys := []string{
		EmailHTMLKey("r1"),
		ExtractionKey("r1"),
		AttachmentKey("r1", "mri-order.pdf"),
		EmailHTMLKey("r2"),
	}
	for _, k := range keys {
		if err := m.Put(ctx, k, strings.NewReader("x"), 1, "text/plain"); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	got, err := m.List(ctx, ReferralPrefix("r1"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 keys under r1, got %d: %v", len(got), got)
	}
	for _, k := range got {
		if !strings.HasPrefix(k, "referrals/r1/") {
			t.Errorf("unexpected key %q in prefix listing", k)
		}
	}
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "k", strings.NewReader("v"), 1, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Delete(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemory_Presign(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Presign(ctx, "missing", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing key, got %v", err)
	}

	if err := m.Put(ctx, "k", strings.NewReader("v"), 1, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	url, err := m.Presign(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "k") {
		t.Errorf("expected key in presigned url, got %q", url)
	}
}

func TestKeyLayout(t *testing.T) {
	id := "0b4f2d9a"
	tests := []struct {
		got  string
		want string
	}{
		{EmailHTMLKey(id), "referrals/0b4f2d9a/email.html"},
		{EmailMetaKey(id), "referrals/0b4f2d9a/email.json"},
		{ExtractionKey(id), "referrals/0b4f2d9a/extraction.json"},
		{AttachmentKey(id, "order.pdf"), "referrals/0b4f2d9a/attachments/order.pdf"},
		{AttachmentTextKey(id, "order.pdf"), "referrals/0b4f2d9a/attachments/order.pdf.txt"},
		{ReferralPrefix(id), "referrals/0b4f2d9a/"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, tt.got)
		}
	}
}
