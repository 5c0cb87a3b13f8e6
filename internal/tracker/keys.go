package tracker

import "strings"

// ParseKeys splits free text into issue keys. Keys may be separated by newlines or
// commas; blank entries and lines starting with # are ignored. Duplicates keep their
// first position.
func ParseKeys(text string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			key := strings.ToUpper(strings.TrimSpace(part))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}
