package textutil

import "strings"

// ParsePairs reads a comma separated "key=value" list such as
// "mercadopago=mp-secret,stripe=whsec". Entries missing "=" or with an empty
// key or value are skipped. A repeated key keeps its last value.
func ParsePairs(raw string) map[string]string {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		pairs[key] = value
	}
	return pairs
}

// LowerKeys returns a copy of values with lower-cased keys, for provider and
// environment labels that are matched case-insensitively.
func LowerKeys(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[strings.ToLower(key)] = value
	}
	return out
}
