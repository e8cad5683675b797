package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// The partner is loose about JSON types: identifiers arrive as strings or
// numbers, lists as arrays or comma-separated strings, and amounts as
// numbers, quoted numbers or "". The flex types below absorb that.

var null = []byte("null")

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, null) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flexString: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// flexStrings accepts an array of strings/numbers or one comma-separated
// string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, null) {
		*f = nil
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var raw []flexString
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		out := make([]string, 0, len(raw))
		for _, s := range raw {
			if s != "" {
				out = append(out, string(s))
			}
		}
		*f = out
		return nil
	}
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = splitList(string(s))
	return nil
}

// flexDecimal accepts a number, a quoted number, "" or null. Valid is false
// for the last two.
type flexDecimal struct {
	Value decimal.Decimal
	Valid bool
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	str := strings.ReplaceAll(string(s), ",", "")
	if str == "" {
		*f = flexDecimal{}
		return nil
	}
	d, err := decimal.NewFromString(str)
	if err != nil {
		return fmt.Errorf("flexDecimal %q: %w", str, err)
	}
	*f = flexDecimal{Value: d, Valid: true}
	return nil
}

// flexDecimals accepts an array of amounts or a comma-separated string.
type flexDecimals []decimal.Decimal

func (f *flexDecimals) UnmarshalJSON(b []byte) error {
	var parts flexStrings
	if err := parts.UnmarshalJSON(b); err != nil {
		return err
	}
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return fmt.Errorf("flexDecimals %q: %w", p, err)
		}
		out = append(out, d)
	}
	*f = out
	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
