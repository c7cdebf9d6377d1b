package memory

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	forgetRe = regexp.MustCompile(`(?i)^\s*#forget\s+(\d+)\s*$`)
	updateRe = regexp.MustCompile(`(?i)^\s*#update\s+(\d+):\s*(.+)$`)
)

// saveCues are words that suggest a message carries something to remember.
var saveCues = []string{"hatırla", "seviyorum", "tercih", "adres", "doğum", "telefon", "mail"}

// suggestSaveWords is the message length, in words, from which saving is suggested.
const suggestSaveWords = 12

// ParseForget recognizes "#forget <id>".
func ParseForget(text string) (int64, bool) {
	m := forgetRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ParseUpdate recognizes "#update <id>: <new text>".
func ParseUpdate(text string) (int64, string, bool) {
	m := updateRe.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	newText := strings.TrimSpace(m[2])
	if newText == "" {
		return 0, "", false
	}
	return id, newText, true
}

// ShouldSuggestSave reports whether a user message looks worth saving:
// it is long or contains a cue word.
func ShouldSuggestSave(text string) bool {
	t := strings.ToLower(text)
	if len(strings.Fields(t)) >= suggestSaveWords {
		return true
	}
	for _, cue := range saveCues {
		if strings.Contains(t, cue) {
			return true
		}
	}
	return false
}
