package contextmgr

import (
	"encoding/json"
	"strings"
)

// CountTokens is the deterministic tokenizer spec.md §9 leaves open: a
// whitespace-field count over the payload's JSON rendering, with a fixed
// per-rune surcharge for punctuation-dense payloads (code snippets, JSON
// blobs) so that structurally dense content is not under-counted relative to
// prose. Every compression computation in this package uses this one
// function, satisfying "all compression tests use the same [tokenizer]".
func CountTokens(payload map[string]interface{}) int {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return CountTokensString(string(raw))
}

// CountTokensString applies the same heuristic directly to a string, used
// for the summary event produced by compression.
func CountTokensString(s string) int {
	words := len(strings.Fields(s))
	punctuation := 0
	for _, r := range s {
		switch r {
		case '{', '}', '[', ']', ':', ',', '"', '(', ')', ';':
			punctuation++
		}
	}
	return words + punctuation/4
}
