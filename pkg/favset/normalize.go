package favset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Rule extracts an identifier from a raw input. It reports false when the
// input is not something the rule understands.
type Rule func(input any) (string, bool)

// Identifiable is implemented by domain types that know their own favorite key.
type Identifiable interface {
	FavoriteID() string
}

// Normalizer turns heterogeneous inputs into identifiers by applying its
// rules in order until one yields a non-empty trimmed string.
type Normalizer struct {
	rules []Rule
}

// NewNormalizer creates a normalizer from an explicit rule list.
func NewNormalizer(rules ...Rule) *Normalizer {
	return &Normalizer{rules: append([]Rule(nil), rules...)}
}

// DefaultNormalizer accepts strings, numbers, Identifiable values, and maps
// carrying an "id", "productId" or "name" field, in that order.
func DefaultNormalizer() *Normalizer {
	return NewNormalizer(
		StringRule,
		NumberRule,
		IdentifiableRule,
		FieldRule("id"),
		FieldRule("productId"),
		FieldRule("name"),
		StringerRule,
	)
}

// Normalize returns the identifier for input, or false if no rule resolves it.
func (n *Normalizer) Normalize(input any) (string, bool) {
	if input == nil {
		return "", false
	}
	for _, rule := range n.rules {
		if id, ok := rule(input); ok {
			if id = strings.TrimSpace(id); id != "" {
				return id, true
			}
		}
	}
	return "", false
}

// Rules returns a copy of the rule list.
func (n *Normalizer) Rules() []Rule {
	return append([]Rule(nil), n.rules...)
}

// StringRule accepts plain strings.
func StringRule(input any) (string, bool) {
	s, ok := input.(string)
	return s, ok
}

// NumberRule accepts finite integers and floats, formatted in their shortest
// decimal form so 42 and 42.0 map to the same key.
func NumberRule(input any) (string, bool) {
	switch v := input.(type) {
	case int:
		return strconv.FormatInt(int64(v), 10), true
	case int8:
		return strconv.FormatInt(int64(v), 10), true
	case int16:
		return strconv.FormatInt(int64(v), 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint8:
		return strconv.FormatUint(uint64(v), 10), true
	case uint16:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return "", false
		}
		return formatFloat(f)
	}
	return "", false
}

func formatFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// IdentifiableRule accepts values implementing Identifiable.
func IdentifiableRule(input any) (string, bool) {
	v, ok := input.(Identifiable)
	if !ok {
		return "", false
	}
	return v.FavoriteID(), true
}

// FieldRule reads a named field from map-shaped inputs. The field value must
// itself be a string or a number.
func FieldRule(field string) Rule {
	return func(input any) (string, bool) {
		var raw any
		switch m := input.(type) {
		case map[string]any:
			raw = m[field]
		case map[string]string:
			v, ok := m[field]
			if !ok {
				return "", false
			}
			raw = v
		default:
			return "", false
		}
		if raw == nil {
			return "", false
		}
		if s, ok := StringRule(raw); ok {
			return s, true
		}
		return NumberRule(raw)
	}
}

// StringerRule is the last resort for types that print themselves.
func StringerRule(input any) (string, bool) {
	v, ok := input.(fmt.Stringer)
	if !ok {
		return "", false
	}
	return v.String(), true
}
