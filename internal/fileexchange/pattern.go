package fileexchange

import (
	"regexp"
	"strings"
)

// CompilePattern converts a glob-style file pattern into an anchored,
// case-insensitive regexp: metacharacters are escaped, "*" matches any run
// and "?" any single character.
func CompilePattern(glob string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(glob)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	escaped = strings.ReplaceAll(escaped, `\?`, `.`)
	return regexp.Compile(`(?i)^` + escaped + `$`)
}
