package stt

import (
	"strings"
	"unicode"
)

const bulletRune = '•'

// filterHallucination applies the four rejection rules to a
// candidate transcription. ok is false if the text must not be emitted;
// reason names which rule fired, for the drop counter and logs.
func filterHallucination(text string, phrases []string) (ok bool, reason string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, "empty"
	}

	runes := []rune(text)
	if len(runes) > 0 {
		bullets := 0
		for _, r := range runes {
			if r == bulletRune {
				bullets++
			}
		}
		if float64(bullets)/float64(len(runes)) >= 0.5 {
			return false, "bullet_fill"
		}
	}

	unique := make(map[rune]struct{})
	for _, r := range runes {
		if unicode.IsSpace(r) {
			continue
		}
		unique[r] = struct{}{}
	}
	if len(unique) < 5 {
		return false, "low_cardinality"
	}

	folded := strings.ToLower(text)
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(folded, strings.ToLower(phrase)) {
			return false, "hallucination_phrase"
		}
	}

	return true, ""
}
