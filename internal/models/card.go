package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// CardToken is what the tokenizer hands back in place of raw card data. It is
// held only long enough to pass it to a charge and is never persisted.
type CardToken struct {
	Token        string `json:"token"`
	MaskedNumber string `json:"maskedNumber"`
	Expiry       string `json:"expiry"` // MMYY
}

// Metadata type for JSON columns
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
