package common

import "encoding/json"

// MaskSecret masks sensitive strings for safe logging
// Shows first 4 and last 4 characters for strings longer than 8 chars
// Returns "***" for short strings and "<not set>" for empty strings
//
// Example:
//
//	MaskSecret("") // "<not set>"
//	MaskSecret("short") // "***"
//	MaskSecret("myverylongsecretkey123") // "myve...y123"
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// Coercion helpers for property maps coming back from the graph driver.
// The driver returns int64 for integers and []interface{} for lists, so
// callers decoding node properties go through these instead of bare type
// assertions.

// AsString returns the string form of a property value, "" when absent.
func AsString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// AsInt widens int-like property values.
func AsInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// AsFloat widens numeric property values.
func AsFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// AsBool returns a bool property value, false when absent.
func AsBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// AsStringSlice flattens a list property into strings, skipping
// non-string members.
func AsStringSlice(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// EncodeJSONMap renders a map for storage in a string property. The graph
// store holds only flat values, so nested payloads travel as JSON text.
func EncodeJSONMap(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// DecodeJSONMap parses a JSON object stored as a string property.
func DecodeJSONMap(v interface{}) map[string]interface{} {
	text, ok := v.(string)
	if !ok || text == "" {
		return nil
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil
	}
	return out
}
