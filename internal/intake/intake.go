// Package intake turns uploaded bytes into Documents and Checklists.
package intake

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"legal-agent/internal/domain"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptInput      = errors.New("corrupt input")
)

var (
	now   = func() time.Time { return time.Now().UTC() }
	newID = func() string { return uuid.NewString() }
)

func corrupt(format string, args ...any) error {
	return fmt.Errorf("intake: %w: %s", ErrCorruptInput, fmt.Sprintf(format, args...))
}

// ParseFormat maps a declared format name (or MIME type) to a Format.
func ParseFormat(declared string) (domain.Format, error) {
	switch strings.ToLower(strings.TrimSpace(declared)) {
	case "pdf", ".pdf", "application/pdf":
		return domain.FormatPDF, nil
	case "txt", ".txt", "text", "text/plain":
		return domain.FormatTXT, nil
	case "json", ".json", "application/json":
		return domain.FormatJSON, nil
	}
	return "", fmt.Errorf("intake: %w: %q", ErrUnsupportedFormat, declared)
}

// DetectFormat derives the Format from a filename extension.
func DetectFormat(filename string) (domain.Format, error) {
	ext := filepath.Ext(strings.TrimSpace(filename))
	if ext == "" {
		return "", fmt.Errorf("intake: %w: %q has no extension", ErrUnsupportedFormat, filename)
	}
	return ParseFormat(ext)
}

// Normalize extracts the text of raw according to format and returns a new
// Document. Image-only PDFs produce empty text without an error.
func Normalize(name string, format domain.Format, raw []byte) (domain.Document, error) {
	if len(raw) == 0 {
		return domain.Document{}, corrupt("empty upload")
	}

	var (
		text  string
		pages int
		err   error
	)
	switch format {
	case domain.FormatTXT:
		text, err = decodeText(raw)
	case domain.FormatPDF:
		text, pages, err = extractPDF(raw)
	case domain.FormatJSON:
		var items []domain.ChecklistItem
		items, err = parseJSONChecklist(raw)
		text = renderItems(items)
	default:
		return domain.Document{}, fmt.Errorf("intake: %w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return domain.Document{}, err
	}

	return domain.Document{
		ID:         newID(),
		Name:       strings.TrimSpace(name),
		Format:     format,
		Raw:        append([]byte(nil), raw...),
		Text:       text,
		Pages:      pages,
		Size:       len(raw),
		UploadedAt: now(),
	}, nil
}
