package reconcile

import (
	"strings"

	"github.com/notefold/notefold/internal/domain/task"
)

// Candidate is one task annotation extracted from document text.
type Candidate struct {
	// Text is the raw annotation text, marker stripped.
	Text string
	// Line is the 1-based source line the annotation sits on.
	Line int
	// Completed reflects the checkbox marker, when one was present.
	Completed bool
	// Hash is the stable matching key for this candidate.
	Hash string
}

// Extract parses bracket-delimited task annotations out of plain text.
//
// Two shapes are recognized:
//
//	[ ] take out the bins     checkbox line; the marker carries completion
//	see [call the dentist]    inline bracket phrase, never completed
//
// Pure checkbox markers with no trailing text and empty brackets are
// placeholders, not tasks. Malformed text (unclosed brackets, binary noise)
// degrades to zero candidates; extraction never fails.
func Extract(documentID, plainText string) []Candidate {
	if strings.TrimSpace(plainText) == "" {
		return nil
	}

	var candidates []Candidate
	seen := make(map[string]bool)

	lines := strings.Split(plainText, "\n")
	for i, line := range lines {
		lineNo := i + 1
		for _, extracted := range extractLine(line) {
			extracted.Line = lineNo
			extracted.Hash = task.StableContentHash(documentID, lineNo, extracted.Text)
			if seen[extracted.Hash] {
				continue
			}
			seen[extracted.Hash] = true
			candidates = append(candidates, extracted)
		}
	}
	return candidates
}

func extractLine(line string) []Candidate {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	// Checkbox shape: the line starts with a marker bracket and carries
	// its text after the bracket.
	if marker, rest, ok := splitCheckboxLine(trimmed); ok {
		text := strings.TrimSpace(rest)
		if text == "" {
			// A pure marker is a placeholder the user has not filled in.
			return nil
		}
		return []Candidate{{Text: text, Completed: marker}}
	}

	// Inline shape: every bracket span whose content is neither empty nor
	// a bare marker.
	var candidates []Candidate
	remaining := trimmed
	for {
		open := strings.IndexByte(remaining, '[')
		if open < 0 {
			break
		}
		close := strings.IndexByte(remaining[open:], ']')
		if close < 0 {
			// Unclosed bracket: ignore the rest of the line.
			break
		}
		content := remaining[open+1 : open+close]
		remaining = remaining[open+close+1:]

		text := strings.TrimSpace(content)
		if text == "" || isMarkerToken(text) {
			continue
		}
		candidates = append(candidates, Candidate{Text: text})
	}
	return candidates
}

// splitCheckboxLine matches a leading "[ ]", "[x]", "[X]" or "[-]" marker
// and returns the completion it encodes plus the trailing text.
func splitCheckboxLine(line string) (completed bool, rest string, ok bool) {
	if !strings.HasPrefix(line, "[") {
		return false, "", false
	}
	close := strings.IndexByte(line, ']')
	if close < 0 {
		return false, "", false
	}
	content := strings.TrimSpace(line[1:close])
	if !isMarkerToken(content) && content != "" {
		return false, "", false
	}
	return content == "x" || content == "X", line[close+1:], true
}

func isMarkerToken(content string) bool {
	switch content {
	case "", "x", "X", "-":
		return true
	}
	return false
}
