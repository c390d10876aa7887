package vault

// MaskSecrets returns a deep copy of doc with every encrypted-secret object
// replaced by a masked placeholder. An object is treated as a secret when it
// carries all three metadata fields (ciphertext, iv, auth_tag).
//
// Intended for API boundaries only; internal code works with the real values.
func MaskSecrets(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		switch m := v.(type) {
		case map[string]any:
			if isSecretObject(m) {
				out[k] = maskedValue
				continue
			}
			out[k] = MaskSecrets(m)
		case []any:
			items := make([]any, len(m))
			for i, item := range m {
				if sub, ok := item.(map[string]any); ok {
					items[i] = MaskSecrets(sub)
				} else {
					items[i] = item
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}

const maskedValue = "********"

func isSecretObject(m map[string]any) bool {
	for _, key := range []string{"ciphertext", "iv", "auth_tag"} {
		s, ok := m[key].(string)
		if !ok || s == "" {
			return false
		}
	}
	return true
}
