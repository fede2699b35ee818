package schema

import (
	"strings"
	"unicode"
)

// SnakeCase converts a CamelCase identifier to snake_case, keeping
// acronym runs together: "MyHTTPServer" becomes "my_http_server".
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Slugify makes a name safe for use in URLs.
func Slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}
