package utils

// Truncate shortens s to at most max runes, appending "..." when it cuts.
// Used for log previews of message bodies.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
