package pathutil

import "strings"

// NormalizePrefix returns a leading-slash prefix without a trailing slash.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if len(prefix) > 1 {
		prefix = strings.TrimRight(prefix, "/")
	}
	return prefix
}

// HasPathPrefix reports whether path equals prefix or is nested under it.
func HasPathPrefix(path, prefix string) bool {
	prefix = NormalizePrefix(prefix)
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Tail returns the non-empty path segments that follow prefix, so
// "/api/calls/7/" under "/api/calls" yields ["7"]. ok is false when path is
// not nested under prefix.
func Tail(path, prefix string) (segments []string, ok bool) {
	if !HasPathPrefix(path, prefix) {
		return nil, false
	}
	rest := strings.TrimPrefix(path, NormalizePrefix(prefix))
	for _, part := range strings.Split(rest, "/") {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}
	return segments, true
}
