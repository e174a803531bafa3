package integration

// MergeConfig returns dst with patch applied key by key. Nested objects are
// merged recursively; any other patch value, including arrays and null,
// replaces the existing one. Neither argument is modified.
func MergeConfig(dst, patch map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(patch))
	for k, v := range dst {
		out[k] = v
	}
	for k, pv := range patch {
		po, pIsObj := pv.(map[string]any)
		do, dIsObj := out[k].(map[string]any)
		if pIsObj && dIsObj {
			out[k] = MergeConfig(do, po)
			continue
		}
		if pIsObj {
			out[k] = MergeConfig(nil, po)
			continue
		}
		out[k] = pv
	}
	return out
}
