package integration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfig(t *testing.T) {
	cases := []struct {
		name  string
		dst   map[string]any
		patch map[string]any
		want  map[string]any
	}{
		{"adds keys", map[string]any{"a": 1}, map[string]any{"b": 2}, map[string]any{"a": 1, "b": 2}},
		{"nested objects merge", map[string]any{"o": map[string]any{"x": 1, "y": 2}}, map[string]any{"o": map[string]any{"y": 3}},
			map[string]any{"o": map[string]any{"x": 1, "y": 3}}},
		{"arrays replace", map[string]any{"l": []any{1, 2}}, map[string]any{"l": []any{3}}, map[string]any{"l": []any{3}}},
		{"null overwrites", map[string]any{"a": 1}, map[string]any{"a": nil}, map[string]any{"a": nil}},
		{"object over scalar", map[string]any{"a": 1}, map[string]any{"a": map[string]any{"b": true}}, map[string]any{"a": map[string]any{"b": true}}},
		{"scalar over object", map[string]any{"a": map[string]any{"b": true}}, map[string]any{"a": "x"}, map[string]any{"a": "x"}},
		{"nil dst", nil, map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"empty patch", map[string]any{"a": 1}, nil, map[string]any{"a": 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MergeConfig(tc.dst, tc.patch))
		})
	}
}

func TestMergeConfig_LeavesInputsAlone(t *testing.T) {
	inner := map[string]any{"x": 1}
	dst := map[string]any{"o": inner}
	patchInner := map[string]any{"y": 2}
	patch := map[string]any{"o": map[string]any{"x": 5}, "p": patchInner}

	out := MergeConfig(dst, patch)
	assert.Equal(t, map[string]any{"x": 1}, inner)
	assert.Equal(t, map[string]any{"o": inner}, dst)

	out["p"].(map[string]any)["y"] = 9
	assert.Equal(t, 2, patchInner["y"])
}

func TestRecordEnabled(t *testing.T) {
	for raw, want := range map[string]bool{
		`{"enabled":true}`:   true,
		`{"enabled":false}`:  false,
		`{"enabled":"true"}`: true,
		`{"enabled":"yes"}`:  false,
		`{"enabled":1}`:      true,
		`{"enabled":0}`:      false,
		`{"enabled":null}`:   false,
		`{}`:                 false,
	} {
		rec, err := decodeRecord([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, rec.Enabled(), raw)
	}
}

func TestRecordConfig(t *testing.T) {
	rec, err := decodeRecord([]byte(`{"enabled":true,"config":{"n":1.5}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": json.Number("1.5")}, rec.Config())

	rec, err = decodeRecord([]byte(`{"enabled":true,"config":[1]}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, rec.Config())

	assert.Nil(t, ConfigView(nil))
}
