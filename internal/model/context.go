package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation marks malformed input. It is never an authorization denial.
var ErrValidation = errors.New("validation failed")

// ValidationError lists the fields that made an ActionContext unusable.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid action context: %s", strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ActionContext describes one requested action. It is never persisted as-is.
type ActionContext struct {
	DelegationID string     `json:"delegation_id"`
	Action       ActionKind `json:"action"`
	Amount       int64      `json:"amount"`
	Currency     string     `json:"currency"`
	Bureau       string     `json:"bureau"`
	Project      string     `json:"project,omitempty"`
	Supplier     string     `json:"supplier,omitempty"`
	Category     string     `json:"category,omitempty"`
	DocumentRef  string     `json:"document_ref"`
	DocumentType string     `json:"document_type"`
	RequesterID  string     `json:"requester_id"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Value returns the context's value for scope dimension d.
func (c ActionContext) Value(d Dimension) string {
	switch d {
	case DimProject:
		return c.Project
	case DimBureau:
		return c.Bureau
	case DimSupplier:
		return c.Supplier
	case DimCategory:
		return c.Category
	default:
		return ""
	}
}

// Validate rejects contexts with missing required fields. Missing fields are never
// treated as "no restriction".
func (c ActionContext) Validate() error {
	var missing []string
	if strings.TrimSpace(c.DelegationID) == "" {
		missing = append(missing, "delegation_id")
	}
	if strings.TrimSpace(c.RequesterID) == "" {
		missing = append(missing, "requester_id")
	}
	if strings.TrimSpace(string(c.Action)) == "" {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(c.Bureau) == "" {
		missing = append(missing, "bureau")
	}
	if c.Amount < 0 {
		missing = append(missing, "amount")
	}
	if c.Amount > 0 && strings.TrimSpace(c.Currency) == "" {
		missing = append(missing, "currency")
	}
	if strings.TrimSpace(c.DocumentRef) == "" {
		missing = append(missing, "document_ref")
	}
	if strings.TrimSpace(c.DocumentType) == "" {
		missing = append(missing, "document_type")
	}
	if c.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}
