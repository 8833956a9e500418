// Package git provides the branch-name slug logic the External
// Coordinator's {goal} placeholder uses. The teacher's local git CLI
// wrapper (checkout/commit/push) is dropped: the source-control role talks
// to a remote Host API (spec.md §6), never to a local git checkout, so
// none of that plumbing has anywhere to attach.
package git

import (
	"regexp"
	"strings"
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9-]`)
	repeatedDash = regexp.MustCompile(`-+`)
)

// Slugify lowercases title, replaces whitespace with hyphens, strips
// non-alphanumeric characters, collapses repeated hyphens, and truncates
// to maxLen (0 means unbounded).
func Slugify(title string, maxLen int) string {
	slug := strings.ToLower(title)
	slug = strings.Join(strings.Fields(slug), "-")
	slug = nonSlugChars.ReplaceAllString(slug, "")
	slug = repeatedDash.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	if maxLen > 0 && len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}
	return slug
}
