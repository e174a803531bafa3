package integration

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Record is a tenant's integration as stored by the platform. Only "enabled"
// and "config" are interpreted; every other field round-trips untouched.
type Record map[string]any

// Enabled follows lenient boolean coercion: true, "true" or a non-zero number.
func (r Record) Enabled() bool {
	switch v := r["enabled"].(type) {
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) == "true"
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case float64:
		return v != 0
	default:
		return false
	}
}

// Config returns the config object, or an empty object when it is missing,
// null or not an object.
func (r Record) Config() map[string]any {
	if c, ok := r["config"].(map[string]any); ok {
		return c
	}
	return map[string]any{}
}

// ConfigView is the config exposed to callers: nil unless the integration
// exists and is enabled.
func ConfigView(r Record) map[string]any {
	if r == nil || !r.Enabled() {
		return nil
	}
	return r.Config()
}

// decodeRecord keeps numbers as json.Number so large ids survive a PUT.
func decodeRecord(b []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	return r, nil
}
