package masking

import "strings"

const maskToken = "****"

// MaskSecret redacts a secret, keeping only its last four characters.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= 4 {
		if trimmed == "" {
			return ""
		}
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	local, domain, found := strings.Cut(trimmed, "@")
	if !found || local == "" {
		return MaskSecret(trimmed)
	}
	return local[:1] + maskToken + "@" + domain
}

// MaskFields returns a copy of input with the named keys masked. Keys
// containing "email" get MaskEmail, everything else MaskSecret.
func MaskFields(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}
	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[key] = struct{}{}
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		str, isString := value.(string)
		if _, ok := sensitive[key]; !ok || !isString {
			out[key] = value
			continue
		}
		if strings.Contains(key, "email") {
			out[key] = MaskEmail(str)
		} else {
			out[key] = MaskSecret(str)
		}
	}
	return out
}
