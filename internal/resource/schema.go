package resource

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType is the declared type of a kind attribute
type FieldType string

const (
	// FieldString holds a string
	FieldString FieldType = "string"
	// FieldInt holds an int64
	FieldInt FieldType = "int"
	// FieldFloat holds a float64
	FieldFloat FieldType = "float"
	// FieldBool holds a bool
	FieldBool FieldType = "bool"
	// FieldTime holds a UTC time.Time
	FieldTime FieldType = "time"
	// FieldStrings holds a []string
	FieldStrings FieldType = "strings"
	// FieldDecimal holds a decimal.Decimal
	FieldDecimal FieldType = "decimal"
)

// Field declares one attribute of a kind
type Field struct {
	Name     string
	Type     FieldType
	Optional bool
}

// Attributes are the kind-specific fields of a record. After normalization
// every schema field is present; absent optional fields hold nil.
type Attributes map[string]any

// Keys returns the attribute names in sorted order
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalize validates attrs against the kind schema and returns a copy holding
// canonical Go types (int64, float64, UTC time.Time). It is the single place
// where field presence is decided.
func (k Kind) Normalize(attrs Attributes) (Attributes, error) {
	declared := make(map[string]Field, len(k.Schema))
	for _, f := range k.Schema {
		declared[f.Name] = f
	}

	var unknown []string
	for name := range attrs {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: kind %s has no attribute(s) %s", ErrInvalidRecord, k.Name, strings.Join(unknown, ", "))
	}

	out := make(Attributes, len(k.Schema))
	for _, f := range k.Schema {
		value, present := attrs[f.Name]
		if !present || value == nil {
			if !f.Optional {
				return nil, fmt.Errorf("%w: kind %s requires attribute %s", ErrInvalidRecord, k.Name, f.Name)
			}
			out[f.Name] = nil
			continue
		}

		canonical, err := coerce(f, value)
		if err != nil {
			return nil, fmt.Errorf("%w: kind %s: %w", ErrInvalidRecord, k.Name, err)
		}
		out[f.Name] = canonical
	}

	return out, nil
}

func coerce(f Field, value any) (any, error) {
	switch f.Type {
	case FieldString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case FieldInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		}
	case FieldFloat:
		switch v := value.(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case FieldBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case FieldTime:
		if v, ok := value.(time.Time); ok {
			return v.UTC(), nil
		}
	case FieldStrings:
		if v, ok := value.([]string); ok {
			return append([]string{}, v...), nil
		}
	case FieldDecimal:
		if v, ok := value.(decimal.Decimal); ok {
			return v, nil
		}
	default:
		return nil, fmt.Errorf("attribute %s has unsupported type %q", f.Name, f.Type)
	}
	return nil, fmt.Errorf("attribute %s must be %s, got %T", f.Name, f.Type, value)
}
