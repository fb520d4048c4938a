package schema

import (
	"strings"
	"unicode"
)

// Decision is the outcome of classifying a human reply to an approval prompt.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionAmbiguous Decision = "ambiguous"
)

var approvePhrases = []string{
	"yes", "y", "yep", "yeah", "sure", "ok", "okay", "approve", "approved",
	"go ahead", "send it", "do it", "looks good", "lgtm", "confirm", "proceed",
}

var rejectPhrases = []string{
	"no", "n", "nope", "nah", "reject", "rejected", "cancel", "stop",
	"don't", "dont", "do not", "abort", "deny", "decline",
}

// ClassifyDecision maps a free-text reply to a Decision.
// Questions and replies that mix both signals are ambiguous.
func ClassifyDecision(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" || strings.Contains(normalized, "?") {
		return DecisionAmbiguous
	}

	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	padded := " " + strings.Join(words, " ") + " "

	approve := containsPhrase(padded, approvePhrases)
	reject := containsPhrase(padded, rejectPhrases)
	switch {
	case reject && !approve:
		return DecisionRejected
	case approve && !reject:
		return DecisionApproved
	default:
		return DecisionAmbiguous
	}
}

func containsPhrase(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}
