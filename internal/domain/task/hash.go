package task

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const hashSeparator = "\x1f"

// NormalizeText reduces an annotation's text to its stable form: checkbox
// marker stripped, surrounding whitespace trimmed, inner runs of whitespace
// collapsed to single spaces, lower-cased.
//
// Completion state and category assignment never enter the normalized form,
// so the identity of a task survives checking it off or re-filing it.
func NormalizeText(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimSpace(stripCheckboxMarker(trimmed))
	return strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
}

// StableContentHash computes the matching key for reconciliation from the
// source document, source line, and normalized text.
//
// SHA-256 truncated to 128 bits, hex encoded. Duplicate identical lines in
// one document disambiguate by source line; 128 bits keeps unintended
// collisions statistically negligible.
func StableContentHash(documentID string, line int, text string) string {
	input := documentID + hashSeparator + strconv.Itoa(line) + hashSeparator + NormalizeText(text)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}

// stripCheckboxMarker removes a leading "[ ]", "[x]", "[X]" or "[-]" marker.
func stripCheckboxMarker(text string) string {
	for _, marker := range []string{"[ ]", "[x]", "[X]", "[-]", "[]"} {
		if strings.HasPrefix(text, marker) {
			return text[len(marker):]
		}
	}
	return text
}
