package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	MaxLabelLength = 50
	MaxLabels      = 30
)

var ErrInvalidLabels = errors.New("labels must be a JSON array of strings")

// NormalizeLabels trims every name, drops empties and collapses duplicates, keeping
// first-seen order.
func NormalizeLabels(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// ParseLabels decodes the multipart "labels" field. present is false when the field was
// absent, which callers treat as "leave labels unchanged". An empty string or "[]" is
// present and clears all labels.
func ParseLabels(raw string, present bool) (labels []string, set bool, err error) {
	if !present {
		return nil, false, nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, true, nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, false, ErrInvalidLabels
	}
	names, err = ValidateLabels(names)
	if err != nil {
		return nil, false, err
	}
	return names, true, nil
}

// ValidateLabels normalizes names and enforces the count and length limits.
func ValidateLabels(names []string) ([]string, error) {
	names = NormalizeLabels(names)
	if len(names) > MaxLabels {
		return nil, fmt.Errorf("too many labels: %d (max %d)", len(names), MaxLabels)
	}
	for _, n := range names {
		if len([]rune(n)) > MaxLabelLength {
			return nil, fmt.Errorf("label %q exceeds %d characters", n, MaxLabelLength)
		}
	}
	return names, nil
}
