package textutil

import "strings"

// NormalizeStringMap trims whitespace from keys and values and drops entries
// whose key becomes empty. A map with nothing left collapses to nil.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		k := strings.TrimSpace(key)
		if k == "" {
			continue
		}
		result[k] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
