package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"legal-agent/internal/domain"
)

var (
	idKeys    = []string{"id", "key"}
	labelKeys = []string{"name", "title", "item"}
	descKeys  = []string{"description", "rule", "requirement", "text", "check"}
)

var bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]+|\(?\d+[.)])\s*`)

// ParseChecklist interprets a Document as a set of compliance items. JSON
// documents are read from their raw bytes; text and PDF documents contribute
// one item per non-blank line. It never returns a partial checklist.
func ParseChecklist(doc domain.Document) (domain.Checklist, error) {
	var (
		items []domain.ChecklistItem
		err   error
	)
	switch {
	case doc.Format == domain.FormatJSON && len(doc.Raw) > 0:
		items, err = parseJSONChecklist(doc.Raw)
	case doc.Format == domain.FormatJSON:
		items, err = parseRenderedItems(doc.Text)
	case doc.Format == domain.FormatTXT, doc.Format == domain.FormatPDF:
		items, err = parseLineItems(doc.Text)
	default:
		return domain.Checklist{}, ErrUnsupportedFormat
	}
	if err != nil {
		return domain.Checklist{}, err
	}
	return domain.Checklist{DocumentID: doc.ID, Items: items}, nil
}

// parseJSONChecklist accepts an array of strings, an array of item objects, a
// mapping of key to rule, or a mapping of key to item object. Object key order
// is kept.
func parseJSONChecklist(raw []byte) ([]domain.ChecklistItem, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, corrupt("checklist json: %v", err)
	}

	var items []domain.ChecklistItem
	switch tok {
	case json.Delim('['):
		for i := 1; dec.More(); i++ {
			var entry json.RawMessage
			if err := dec.Decode(&entry); err != nil {
				return nil, corrupt("checklist json entry %d: %v", i, err)
			}
			item, err := itemFromArrayEntry(entry, i)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	case json.Delim('{'):
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, corrupt("checklist json key: %v", err)
			}
			key, _ := keyTok.(string)
			var value json.RawMessage
			if err := dec.Decode(&value); err != nil {
				return nil, corrupt("checklist json value for %q: %v", key, err)
			}
			item, err := itemFromMapEntry(key, value)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	default:
		return nil, corrupt("checklist json must be an array or an object")
	}

	if _, err := dec.Token(); err != nil {
		return nil, corrupt("checklist json: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, corrupt("checklist json: trailing data")
	}
	return validateItems(items)
}

func itemFromArrayEntry(entry json.RawMessage, index int) (domain.ChecklistItem, error) {
	var s string
	if err := json.Unmarshal(entry, &s); err == nil {
		return domain.ChecklistItem{ID: strconv.Itoa(index), Description: strings.TrimSpace(s)}, nil
	}

	fields, err := objectFields(entry)
	if err != nil {
		return domain.ChecklistItem{}, corrupt("checklist entry %d must be a string or an object", index)
	}
	label := firstField(fields, labelKeys)
	id := firstField(fields, idKeys)
	if id == "" {
		id = label
	}
	if id == "" {
		id = strconv.Itoa(index)
	}
	desc := firstField(fields, descKeys)
	if desc == "" {
		desc = label
	}
	return domain.ChecklistItem{ID: id, Description: desc}, nil
}

func itemFromMapEntry(key string, value json.RawMessage) (domain.ChecklistItem, error) {
	key = strings.TrimSpace(key)
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return domain.ChecklistItem{ID: key, Description: strings.TrimSpace(s)}, nil
	}

	fields, err := objectFields(value)
	if err != nil {
		return domain.ChecklistItem{}, corrupt("checklist value for %q must be a string or an object", key)
	}
	desc := firstField(fields, descKeys)
	if desc == "" {
		desc = firstField(fields, labelKeys)
	}
	return domain.ChecklistItem{ID: key, Description: desc}, nil
}

// objectFields decodes a JSON object into lower-cased keys.
func objectFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errors.New("not an object")
	}
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out, nil
}

// firstField returns the first string or number value among keys.
func firstField(fields map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func parseLineItems(text string) ([]domain.ChecklistItem, error) {
	var items []domain.ChecklistItem
	for _, line := range strings.Split(text, "\n") {
		desc := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if desc == "" {
			continue
		}
		items = append(items, domain.ChecklistItem{ID: strconv.Itoa(len(items) + 1), Description: desc})
	}
	return validateItems(items)
}

// parseRenderedItems reads back the "id: description" lines produced by renderItems.
func parseRenderedItems(text string) ([]domain.ChecklistItem, error) {
	var items []domain.ChecklistItem
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, desc, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, corrupt("checklist line %q has no identifier", line)
		}
		items = append(items, domain.ChecklistItem{ID: strings.TrimSpace(id), Description: strings.TrimSpace(desc)})
	}
	return validateItems(items)
}

func validateItems(items []domain.ChecklistItem) ([]domain.ChecklistItem, error) {
	if len(items) == 0 {
		return nil, corrupt("checklist has no items")
	}
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		if item.Description == "" {
			return nil, corrupt("checklist item %d has no description", i+1)
		}
		key := domain.ItemKey(item.ID)
		if seen[key] {
			return nil, corrupt("checklist item id %q is duplicated", item.ID)
		}
		seen[key] = true
	}
	return items, nil
}

func renderItems(items []domain.ChecklistItem) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = item.ID + ": " + item.Description
	}
	return strings.Join(lines, "\n")
}
