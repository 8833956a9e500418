// Package stringutils provides small string-validation helpers shared by
// role and probe registration paths.
package stringutils

import "strings"

// IsEmpty returns true if the string is empty or contains only whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
