// Package valueobject holds small, immutable types shared across layers
// that don't belong to any one persisted entity.
package valueobject

import (
	"encoding/json"
	"fmt"
)

// ConfigValueKind tags which variant a ConfigValue holds.
type ConfigValueKind string

const (
	ConfigString ConfigValueKind = "string"
	ConfigInt    ConfigValueKind = "int"
	ConfigBool   ConfigValueKind = "bool"
	ConfigFloat  ConfigValueKind = "float"
	ConfigJSON   ConfigValueKind = "json"
)

// ConfigValue is a tagged variant for a single ProviderConfig value,
// replacing the source's untyped string-keyed bag: the factory validates a
// provider type's RequiredConfig schema against the Kind, not just presence.
type ConfigValue struct {
	Kind      ConfigValueKind
	Str       string
	Int       int64
	Bool      bool
	Float     float64
	JSON      string // raw JSON text, only populated when Kind == ConfigJSON
	Sensitive bool   // true => redact on any egress
}

// String renders the value for non-sensitive logging/display purposes.
// Callers MUST check Sensitive before calling this on a value meant for an
// external surface — String() does not redact itself, so that internal
// code (e.g. the factory, which must see real values) isn't forced through
// a redaction path it doesn't want.
func (v ConfigValue) String() string {
	switch v.Kind {
	case ConfigInt:
		return fmt.Sprintf("%d", v.Int)
	case ConfigBool:
		return fmt.Sprintf("%t", v.Bool)
	case ConfigFloat:
		return fmt.Sprintf("%g", v.Float)
	case ConfigJSON:
		return v.JSON
	default:
		return v.Str
	}
}

// Redacted returns the display form for egress: the real value unless
// Sensitive, in which case a fixed placeholder.
func (v ConfigValue) Redacted() string {
	if v.Sensitive {
		return "••••••••"
	}
	return v.String()
}

// ParseConfigValue decodes the stored (kind, raw JSON-or-scalar string)
// representation back into a ConfigValue. The store always persists Value
// as the JSON encoding of the scalar so that ints/bools/floats round-trip
// exactly instead of through ad hoc string parsing.
func ParseConfigValue(kind ConfigValueKind, raw string, sensitive bool) (ConfigValue, error) {
	v := ConfigValue{Kind: kind, Sensitive: sensitive}
	switch kind {
	case ConfigString:
		if err := json.Unmarshal([]byte(raw), &v.Str); err != nil {
			v.Str = raw // tolerate bare (non-JSON-quoted) strings from hand-edited config
		}
	case ConfigInt:
		if err := json.Unmarshal([]byte(raw), &v.Int); err != nil {
			return v, fmt.Errorf("config value %q is not a valid int: %w", raw, err)
		}
	case ConfigBool:
		if err := json.Unmarshal([]byte(raw), &v.Bool); err != nil {
			return v, fmt.Errorf("config value %q is not a valid bool: %w", raw, err)
		}
	case ConfigFloat:
		if err := json.Unmarshal([]byte(raw), &v.Float); err != nil {
			return v, fmt.Errorf("config value %q is not a valid float: %w", raw, err)
		}
	case ConfigJSON:
		v.JSON = raw
	default:
		return v, fmt.Errorf("unknown config value kind %q", kind)
	}
	return v, nil
}

// Encode renders v back into the store's raw-string representation.
func (v ConfigValue) Encode() (string, error) {
	switch v.Kind {
	case ConfigString:
		b, err := json.Marshal(v.Str)
		return string(b), err
	case ConfigInt:
		b, err := json.Marshal(v.Int)
		return string(b), err
	case ConfigBool:
		b, err := json.Marshal(v.Bool)
		return string(b), err
	case ConfigFloat:
		b, err := json.Marshal(v.Float)
		return string(b), err
	case ConfigJSON:
		return v.JSON, nil
	default:
		return "", fmt.Errorf("unknown config value kind %q", v.Kind)
	}
}
