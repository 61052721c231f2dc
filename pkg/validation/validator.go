// Package validation checks catalog candidates field by field before they are staged.
package validation

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/catvault/catvault/pkg/labels"
)

// Candidate is an image record before it is admitted to a batch
type Candidate struct {
	ExternalID string
	Width      int
	Height     int
	ImageURL   string
	Labels     []string
}

// FieldViolation describes one failed rule on one candidate
type FieldViolation struct {
	ExternalID string `json:"external_id"`
	Field      string `json:"field"`
	Message    string `json:"message"`
}

func (v FieldViolation) String() string {
	return fmt.Sprintf("%s: %s: %s", v.ExternalID, v.Field, v.Message)
}

// Validator enforces field-level constraints on candidate records
type Validator struct {
	allowedSchemes map[string]bool
}

// NewValidator creates a validator accepting http, https and ftp image URLs
func NewValidator() *Validator {
	return &Validator{
		allowedSchemes: map[string]bool{"http": true, "https": true, "ftp": true},
	}
}

// Validate returns every violated rule; an empty result means the candidate
// may be staged. All rules are checked so operators see the full picture.
func (v *Validator) Validate(c Candidate) []FieldViolation {
	var violations []FieldViolation
	add := func(field, format string, args ...any) {
		violations = append(violations, FieldViolation{
			ExternalID: c.ExternalID,
			Field:      field,
			Message:    fmt.Sprintf(format, args...),
		})
	}

	if strings.TrimSpace(c.ExternalID) == "" {
		add("external_id", "external id is required")
	}
	if c.Width < 1 {
		add("width", "width must be at least 1, got %d", c.Width)
	}
	if c.Height < 1 {
		add("height", "height must be at least 1, got %d", c.Height)
	}
	if err := v.ValidateURL(c.ImageURL); err != nil {
		add("image_url", "%v", err)
	}
	for _, name := range c.Labels {
		if err := labels.CheckName(name); err != nil {
			add("labels", "%v", err)
		}
	}

	for _, fv := range violations {
		slog.Error("validation_failed", "external_id", fv.ExternalID, "field", fv.Field, "error", fv.Message)
	}
	return violations
}

// ValidateURL checks that raw is an absolute URL with an allowed scheme and a host
func (v *Validator) ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("image url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("image url is not a valid URL: %v", err)
	}
	if !v.allowedSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("image url scheme %q is not allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("image url %q has no host", raw)
	}
	return nil
}
