package domain

import (
	"fmt"
	"strings"
)

// Duration bounds for a generated reading video.
const (
	MinSeconds     = 1
	MaxSeconds     = 20
	DefaultSeconds = 5
)

// Card identifies the drawn card and its orientation.
type Card struct {
	Name     string `json:"name"`
	Reversed bool   `json:"reversed"`
}

// GenerationRequest is one user's ask for a reading video. It is
// request-scoped and never persisted as-is.
type GenerationRequest struct {
	Card     Card   `json:"card"`
	Question string `json:"question"`
	Position string `json:"position,omitempty"`
	Style    string `json:"style,omitempty"`
	Seconds  int    `json:"seconds,omitempty"`
}

// ApplyDefaults fills optional fields before validation.
func (r *GenerationRequest) ApplyDefaults(defaultStyle string) {
	if r.Seconds == 0 {
		r.Seconds = DefaultSeconds
	}
	if strings.TrimSpace(r.Style) == "" {
		r.Style = defaultStyle
	}
}

// Validate returns every violated constraint, so the caller can surface them
// all in a single response. styleCatalog is the full set of known styles;
// tier entitlement is checked separately.
func (r *GenerationRequest) Validate(styleCatalog []string) []string {
	var violations []string
	if strings.TrimSpace(r.Card.Name) == "" {
		violations = append(violations, "card name is required")
	}
	if strings.TrimSpace(r.Question) == "" {
		violations = append(violations, "question is required")
	}
	if r.Seconds < MinSeconds || r.Seconds > MaxSeconds {
		violations = append(violations, fmt.Sprintf("seconds must be between %d and %d", MinSeconds, MaxSeconds))
	}
	if !containsFold(styleCatalog, r.Style) {
		violations = append(violations, fmt.Sprintf("unsupported style %q", r.Style))
	}
	return violations
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, strings.TrimSpace(needle)) {
			return true
		}
	}
	return false
}
