package compliance

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"legal-agent/internal/domain"
)

var errNoJSON = errors.New("compliance: reply holds no JSON object")

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type modelFinding struct {
	ID           flexString `json:"id"`
	Status       string     `json:"status"`
	Rationale    string     `json:"rationale"`
	Reason       string     `json:"reason"`
	Excerpt      string     `json:"excerpt"`
	SuggestedFix string     `json:"suggested_fix"`
	Severity     string     `json:"severity"`
}

// jsonObject returns the outermost {...} of a model reply, ignoring code
// fences and any prose around it.
func jsonObject(reply string) ([]byte, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end < start {
		return nil, errNoJSON
	}
	return []byte(reply[start : end+1]), nil
}

// jsonArray returns the outermost [...] of a reply whose JSON starts with an
// array rather than an object.
func jsonArray(reply string) ([]byte, bool) {
	start := strings.Index(reply, "[")
	if start == -1 {
		return nil, false
	}
	if obj := strings.Index(reply, "{"); obj != -1 && obj < start {
		return nil, false
	}
	end := strings.LastIndex(reply, "]")
	if end < start {
		return nil, false
	}
	return []byte(reply[start : end+1]), true
}

// decodeFindings reads a bare array of findings, {"findings":[...]} or a
// mapping of item id to finding.
func decodeFindings(reply string) ([]modelFinding, error) {
	if raw, ok := jsonArray(reply); ok {
		var list []modelFinding
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			return list, nil
		}
	}

	raw, err := jsonObject(reply)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Findings []modelFinding `json:"findings"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Findings != nil {
		return wrapped.Findings, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	out := make([]modelFinding, 0, len(keyed))
	for key, value := range keyed {
		value = bytes.TrimSpace(value)
		if len(value) == 0 || value[0] != '{' {
			continue
		}
		var f modelFinding
		if err := json.Unmarshal(value, &f); err != nil {
			continue
		}
		if strings.TrimSpace(string(f.ID)) == "" {
			f.ID = flexString(key)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, errNoJSON
	}
	return out, nil
}

func normalizeStatus(s string) (domain.ComplianceStatus, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "ADDRESSED", "COMPLIANT", "PRESENT", "SATISFIED", "MET", "OK":
		return domain.StatusAddressed, true
	case "MISSING", "ABSENT", "NOT_FOUND", "NOT_ADDRESSED", "NON_COMPLIANT":
		return domain.StatusMissing, true
	case "AT_RISK", "RISKY", "RISK", "PARTIAL", "PARTIALLY_ADDRESSED", "VAGUE":
		return domain.StatusAtRisk, true
	}
	return "", false
}

func normalizeSeverity(s string, status domain.ComplianceStatus) domain.Severity {
	switch sev := domain.Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
		return sev
	}
	switch status {
	case domain.StatusMissing:
		return domain.SeverityHigh
	case domain.StatusAtRisk:
		return domain.SeverityMedium
	}
	return domain.SeverityLow
}
