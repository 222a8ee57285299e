package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSizeStock is returned when a size map fails validation.
var ErrInvalidSizeStock = errors.New("invalid size stock")

// SizeStock maps a size label to the units available in that size. A nil
// or empty map means the record is not sized.
type SizeStock map[string]int

// Validate rejects blank labels and negative counts.
func (s SizeStock) Validate() error {
	for size, qty := range s {
		if strings.TrimSpace(size) == "" {
			return fmt.Errorf("%w: empty size label", ErrInvalidSizeStock)
		}
		if qty < 0 {
			return fmt.Errorf("%w: size %q has negative count %d", ErrInvalidSizeStock, size, qty)
		}
	}
	return nil
}

// Sized reports whether stock is tracked per size.
func (s SizeStock) Sized() bool {
	return len(s) > 0
}

// Total sums the per-size counts.
func (s SizeStock) Total() int {
	total := 0
	for _, qty := range s {
		total += qty
	}
	return total
}

// Has reports whether size is a known label.
func (s SizeStock) Has(size string) bool {
	_, ok := s[size]
	return ok
}

// Sizes returns the labels in sorted order.
func (s SizeStock) Sizes() []string {
	out := make([]string, 0, len(s))
	for size := range s {
		out = append(out, size)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s SizeStock) Clone() SizeStock {
	if s == nil {
		return nil
	}
	out := make(SizeStock, len(s))
	for size, qty := range s {
		out[size] = qty
	}
	return out
}

func (SizeStock) GormDataType() string {
	return "text"
}

func (s *SizeStock) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("SizeStock: unsupported Scan type %T", src)
	}
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		*s = nil
		return nil
	}
	var decoded map[string]int
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("SizeStock: decode: %w", err)
	}
	parsed := SizeStock(decoded)
	if err := parsed.Validate(); err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s SizeStock) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(map[string]int(s))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}
