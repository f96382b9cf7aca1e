package ai

import "strings"

const bearerPrefix = "bearer "

// normalizeAPIKey strips quoting, a Bearer prefix and control characters that often
// leak into keys pasted into .env files.
func normalizeAPIKey(raw string) string {
	key := strings.Trim(strings.TrimSpace(raw), `"'`)
	key = strings.TrimSpace(key)
	if len(key) >= len(bearerPrefix) && strings.EqualFold(key[:len(bearerPrefix)], bearerPrefix) {
		key = strings.TrimSpace(key[len(bearerPrefix):])
	}

	key = strings.NewReplacer(`\r`, "", `\n`, "").Replace(key)

	// Only visible ASCII survives into the Authorization header.
	filtered := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		if b := key[i]; b >= 33 && b <= 126 {
			filtered = append(filtered, b)
		}
	}
	return string(filtered)
}

// maskAPIKey keeps the last four characters of key for logs.
func maskAPIKey(key string) string {
	if key == "" {
		return "<unset>"
	}
	if len(key) <= 8 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
