package admission

import "strings"

// matchesPrefix reports whether path is prefix or sits beneath it. "/api"
// guards "/api" and "/api/x" but not "/apiary".
func matchesPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
