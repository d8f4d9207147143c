// Package blobstore stores referral artifacts in S3-compatible object
// storage. Every artifact for a referral lives under one key prefix so the
// full paper trail for a case can be listed with a single prefix scan.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("blobstore: object not found")

// Store is the object storage contract used by the ingestion pipeline and
// the referral API.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Presign(ctx context.Context, key string, expiry time.Duration) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Key helpers for the referral artifact layout.

func EmailHTMLKey(referralID string) string {
	return fmt.Sprintf("referrals/%s/email.html", referralID)
}

func EmailMetaKey(referralID string) string {
	return fmt.Sprintf("referrals/%s/email.json", referralID)
}

func ExtractionKey(referralID string) string {
	return fmt.Sprintf("referrals/%s/extraction.json", referralID)
}

func AttachmentKey(referralID, filename string) string {
	return fmt.Sprintf("referrals/%s/attachments/%s", referralID, filename)
}

// AttachmentTextKey is the extracted-text sidecar stored next to a PDF
// attachment.
func AttachmentTextKey(referralID, filename string) string {
	return AttachmentKey(referralID, filename) + ".txt"
}

// ReferralPrefix is the key prefix holding every artifact for a referral.
func ReferralPrefix(referralID string) string {
	return fmt.Sprintf("referrals/%s/", referralID)
}
