package utils

// visibleTokenChars is how much of a credential may appear in logs.
const visibleTokenChars = 8

// TruncateToken shortens a credential for logging. Only the first few
// characters survive, which covers the prefix and not the secret part.
func TruncateToken(raw string) string {
	if raw == "" {
		return ""
	}
	if len(raw) <= visibleTokenChars {
		return "..."
	}
	return raw[:visibleTokenChars] + "..."
}
