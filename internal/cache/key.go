package cache

import "strings"

// Fingerprint joins the logical parameters of a request into a cache key.
// Parts are joined with ':' in the order given, so callers must pass them
// in a fixed order for the key to be deterministic.
func Fingerprint(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}
