package ingest

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/refcrm/refcrm/internal/domain/email"
	"github.com/refcrm/refcrm/internal/platform/mailbox"
)

var logoExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".ico": true, ".webp": true, ".svg": true,
}

var logoContentTypes = map[string]bool{
	"image/png": true, "image/jpeg": true, "image/gif": true,
	"image/bmp": true, "image/x-icon": true, "image/webp": true,
	"image/svg+xml": true,
}

// isLogo flags attachments that are almost certainly email signature images
// rather than referral documents.
func isLogo(att mailbox.Attachment) bool {
	ext := strings.ToLower(filepath.Ext(att.Name))
	if logoExtensions[ext] {
		return true
	}
	return logoContentTypes[strings.ToLower(att.ContentType)]
}

// documentType classifies an attachment for its stored record.
func documentType(att mailbox.Attachment) string {
	switch {
	case isLogo(att):
		return email.DocTypeLogo
	case isPDF(att):
		return email.DocTypeReferralForm
	default:
		return email.DocTypeOther
	}
}

func isPDF(att mailbox.Attachment) bool {
	return att.ContentType == "application/pdf" ||
		strings.HasSuffix(strings.ToLower(att.Name), ".pdf")
}

// attachmentText pulls readable text from an attachment for the extraction
// prompt. PDFs go through the pdf reader; plain text comes back as is.
// Anything else yields an empty string.
func attachmentText(att mailbox.Attachment) string {
	switch {
	case isPDF(att):
		return pdfText(att.Content)
	case strings.HasPrefix(att.ContentType, "text/"):
		return string(att.Content)
	default:
		return ""
	}
}

func pdfText(content []byte) string {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return ""
	}
	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
