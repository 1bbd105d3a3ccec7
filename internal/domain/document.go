package domain

import (
	"strings"
	"time"
)

// Format is the declared encoding of an uploaded artifact.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatTXT  Format = "txt"
	FormatJSON Format = "json"
)

// DocumentKind tells the session which slot an upload fills.
type DocumentKind string

const (
	KindContract  DocumentKind = "contract"
	KindChecklist DocumentKind = "checklist"
)

// Document is an uploaded artifact and the text extracted from it at intake.
// Text is derived once; a new upload produces a new Document.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Format     Format    `json:"format"`
	Raw        []byte    `json:"-"`
	Text       string    `json:"text"`
	Pages      int       `json:"pages,omitempty"`
	Size       int       `json:"size"`
	BlobKey    string    `json:"blobKey,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// ChecklistItem is a single compliance requirement.
type ChecklistItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// ItemKey is the form an item ID is matched by when a model echoes it back:
// case, surrounding space and brackets are ignored.
func ItemKey(id string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(id), "[]"))
}

// Checklist is the ordered set of items parsed from a checklist Document.
type Checklist struct {
	DocumentID string          `json:"documentId"`
	Items      []ChecklistItem `json:"items"`
}

func (d Document) clone() Document {
	if d.Raw != nil {
		d.Raw = append([]byte(nil), d.Raw...)
	}
	return d
}
