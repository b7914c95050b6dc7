package models

import (
	"fmt"
	"strings"
	"time"
)

// Expense is a project expense record. It exclusively owns its attachments.
type Expense struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category,omitempty"`
	SpentOn     string    `json:"spent_on,omitempty"`
	CreatorID   string    `json:"creator_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const DefaultCurrency = "EUR"

// NormalizeCurrency upper-cases a three-letter currency code.
func NormalizeCurrency(raw string) (string, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return DefaultCurrency, nil
	}
	if len(value) != 3 {
		return "", fmt.Errorf("invalid currency: %s", raw)
	}
	for _, r := range value {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid currency: %s", raw)
		}
	}
	return value, nil
}

// ParseSpentOn validates an ISO date (YYYY-MM-DD). Empty is allowed.
func ParseSpentOn(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", nil
	}
	if _, err := time.Parse(time.DateOnly, value); err != nil {
		return "", fmt.Errorf("invalid spent_on: %s", raw)
	}
	return value, nil
}
