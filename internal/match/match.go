package match

import (
	"regexp"
	"strings"
)

// Matches checks a field value against a user-supplied filter pattern. The
// pattern is tried as a case-insensitive regular expression first; a pattern
// that fails to compile degrades to plain case-insensitive substring
// containment instead of failing the lookup. The two semantics are never
// mixed within a single call.
func Matches(pattern, value string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
	}
	return re.MatchString(value)
}
