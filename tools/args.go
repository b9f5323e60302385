package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pauldw/pwalker-mcp/errors"
)

// Args wraps tool arguments with typed accessor methods.
// Accessor failures are INVALID_INPUT errors naming the offending key.
type Args map[string]interface{}

// DecodeArgs decodes a JSON object into Args. Numbers are kept as
// json.Number. Empty input and null decode to an empty Args.
func DecodeArgs(raw json.RawMessage) (Args, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Args{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var a Args
	if err := dec.Decode(&a); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "arguments must be a JSON object")
	}
	if a == nil {
		a = Args{}
	}
	return a, nil
}

func invalid(format string, args ...interface{}) error {
	return errors.InvalidInput(fmt.Sprintf(format, args...))
}

// String gets a required string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", invalid("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid("%s must be a string, got %s", key, jsonType(v))
	}
	return s, nil
}

// StringOr gets an optional string argument. A present value of the
// wrong type is an error rather than a silent default.
func (a Args) StringOr(key, defaultVal string) (string, error) {
	if !a.Has(key) {
		return defaultVal, nil
	}
	return a.String(key)
}

// Float gets a required float64 argument.
func (a Args) Float(key string) (float64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, invalid("%s is required", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, invalid("%s is not a valid number: %s", key, n)
		}
		return f, nil
	default:
		return 0, invalid("%s must be a number, got %s", key, jsonType(v))
	}
}

// Bool gets a required boolean argument.
func (a Args) Bool(key string) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return false, invalid("%s is required", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, invalid("%s must be a boolean, got %s", key, jsonType(v))
	}
	return b, nil
}

// BoolOr gets an optional boolean argument.
func (a Args) BoolOr(key string, defaultVal bool) (bool, error) {
	if !a.Has(key) {
		return defaultVal, nil
	}
	return a.Bool(key)
}

// StringSlice gets a required string slice argument.
// Handles []interface{} (JSON arrays decode as []interface{}).
func (a Args) StringSlice(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, invalid("%s is required", key)
	}
	return toStringSlice(v, key)
}

// StringSliceOr gets an optional string slice argument.
func (a Args) StringSliceOr(key string, defaultVal []string) ([]string, error) {
	if !a.Has(key) {
		return defaultVal, nil
	}
	return a.StringSlice(key)
}

// toStringSlice converts an interface{} to []string.
func toStringSlice(v interface{}, key string) ([]string, error) {
	switch arr := v.(type) {
	case []string:
		return arr, nil
	case []interface{}:
		result := make([]string, 0, len(arr))
		for i, item := range arr {
			s, ok := item.(string)
			if !ok {
				return nil, invalid("%s[%d] must be a string, got %s", key, i, jsonType(item))
			}
			result = append(result, s)
		}
		return result, nil
	default:
		return nil, invalid("%s must be an array, got %s", key, jsonType(v))
	}
}

// Has returns true if the key is present and not null.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// jsonType names the JSON type of a decoded value.
func jsonType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, json.Number:
		return "number"
	case []interface{}, []string:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
