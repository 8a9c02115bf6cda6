package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Changes is a field → value map carried by modification requests.
// Values are JSON scalars; numbers are kept as json.Number or strings so
// monetary values never pass through float64.
type Changes map[string]any

// Has reports whether key is present
func (c Changes) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Keys returns the keys in sorted order
func (c Changes) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value at key as a string
func (c Changes) String(key string) (string, error) {
	v, ok := c[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidChange, key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return "", fmt.Errorf("%w: %q must be a string", ErrInvalidChange, key)
}

// Decimal returns the value at key as a decimal
func (c Changes) Decimal(key string) (decimal.Decimal, error) {
	v, ok := c[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: missing %q", ErrInvalidChange, key)
	}
	var (
		d   decimal.Decimal
		err error
	)
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case string:
		d, err = decimal.NewFromString(n)
	case json.Number:
		d, err = decimal.NewFromString(n.String())
	case int:
		d = decimal.NewFromInt(int64(n))
	case int64:
		d = decimal.NewFromInt(n)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q must be a decimal", ErrInvalidChange, key)
	}
	return d, nil
}

// Int returns the value at key as an int64
func (c Changes) Int(key string) (int64, error) {
	v, ok := c[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidChange, key)
	}
	var (
		n   int64
		err error
	)
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case json.Number:
		n, err = x.Int64()
	case string:
		n, err = strconv.ParseInt(x, 10, 64)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q must be an integer", ErrInvalidChange, key)
	}
	return n, nil
}

// UUID returns the value at key as a uuid
func (c Changes) UUID(key string) (uuid.UUID, error) {
	s, err := c.String(key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q must be a uuid", ErrInvalidChange, key)
	}
	return id, nil
}

// Normalize returns a copy with every value rendered in its canonical
// stored form, so snapshots taken before and after a JSON round trip
// compare equal
func (c Changes) Normalize() Changes {
	out := make(Changes, len(c))
	for k, v := range c {
		switch x := v.(type) {
		case decimal.Decimal:
			out[k] = x.String()
		case json.Number:
			out[k] = x.String()
		case int:
			out[k] = strconv.Itoa(x)
		case int64:
			out[k] = strconv.FormatInt(x, 10)
		case fmt.Stringer:
			out[k] = x.String()
		default:
			out[k] = v
		}
	}
	return out
}

// Equal compares the normalized value at key in both maps. Decimal-looking
// values compare numerically so "10" equals "10.00".
func (c Changes) Equal(other Changes, key string) bool {
	a, aok := c.Normalize()[key]
	b, bok := other.Normalize()[key]
	if aok != bok {
		return false
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		if as == bs {
			return true
		}
		ad, aerr := decimal.NewFromString(as)
		bd, berr := decimal.NewFromString(bs)
		return aerr == nil && berr == nil && ad.Equal(bd)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// UnmarshalJSON decodes numbers as json.Number
func (c *Changes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	m := map[string]any{}
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*c = m
	return nil
}
