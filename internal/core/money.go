// Package core provides the ledger domain types together with money and
// date handling utilities.
//
// This file contains the Amount type, which tolerates the loosely typed
// values that come out of storage, and the strict parser used on writes.
package core

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value that may be missing or malformed.
//
// Rows loaded from storage carry amounts as TEXT, JSON numbers or strings,
// and a single corrupt value must not stop aggregation over the others.
// Amount keeps track of whether the source value was usable; OrZero is what
// every computation reads.
type Amount struct {
	Value decimal.Decimal
	Valid bool
}

// NewAmount returns a valid Amount holding d.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Value: d, Valid: true}
}

// AmountFromString returns a valid Amount parsed from a decimal literal.
// Malformed input yields an invalid Amount.
func AmountFromString(s string) Amount {
	return AmountFrom(s)
}

// MustAmount parses s and panics if it is not a decimal literal.
// Intended for tests and constants.
func MustAmount(s string) Amount {
	a := AmountFrom(s)
	if !a.Valid {
		panic("core: invalid amount literal " + s)
	}
	return a
}

// AmountFrom coerces an arbitrary value into an Amount.
//
// nil, empty strings, non-numeric strings, NaN and infinities all produce an
// invalid Amount. It never panics.
func AmountFrom(v any) Amount {
	switch t := v.(type) {
	case nil:
		return Amount{}
	case Amount:
		return t
	case *Amount:
		if t == nil {
			return Amount{}
		}
		return *t
	case decimal.Decimal:
		return NewAmount(t)
	case *decimal.Decimal:
		if t == nil {
			return Amount{}
		}
		return NewAmount(*t)
	case float64:
		return amountFromFloat(t)
	case float32:
		return amountFromFloat(float64(t))
	case int:
		return NewAmount(decimal.NewFromInt(int64(t)))
	case int32:
		return NewAmount(decimal.NewFromInt32(t))
	case int64:
		return NewAmount(decimal.NewFromInt(t))
	case string:
		return amountFromText(t)
	case []byte:
		return amountFromText(string(t))
	case json.Number:
		return amountFromText(t.String())
	case sql.NullString:
		if !t.Valid {
			return Amount{}
		}
		return amountFromText(t.String)
	case sql.NullFloat64:
		if !t.Valid {
			return Amount{}
		}
		return amountFromFloat(t.Float64)
	default:
		return Amount{}
	}
}

func amountFromFloat(f float64) Amount {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Amount{}
	}
	return NewAmount(decimal.NewFromFloat(f))
}

func amountFromText(s string) Amount {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}
	}
	// Accept a decimal comma when no dot is present ("12,50").
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}
	}
	return NewAmount(d)
}

// OrZero returns the value, or zero when the Amount is invalid.
func (a Amount) OrZero() decimal.Decimal {
	if !a.Valid {
		return decimal.Zero
	}
	return a.Value
}

// String renders the amount with two decimals, or "" when invalid.
func (a Amount) String() string {
	if !a.Valid {
		return ""
	}
	return a.Value.StringFixed(2)
}

// MarshalJSON encodes valid amounts as decimal strings and invalid ones as null.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(a.Value.String())
}

// UnmarshalJSON accepts numbers, strings and null. Values that cannot be
// read as a decimal leave the Amount invalid instead of failing the decode.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*a = Amount{}
			return nil
		}
		*a = amountFromText(s)
		return nil
	}
	*a = amountFromText(string(data))
	return nil
}

// ParseAmount converts a user supplied decimal string into a decimal value
// rounded half-up to two places.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Negative
// values and malformed input return ErrInvalidAmount. Zero is accepted; the
// caller decides whether zero is meaningful.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("12.345") -> 12.35, nil (half-up)
//	ParseAmount("-1")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, p := range parts {
		for _, r := range p {
			if r < '0' || r > '9' {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" && fracPart == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	if fracPart != "" {
		intPart += "." + fracPart
	}
	d, err := decimal.NewFromString(intPart)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(2), nil
}
