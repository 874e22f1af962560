// Package detect classifies raw responses from the target site. Ozon serves a
// challenge interstitial instead of content when it suspects automation; the
// classifier is a fixed phrase list over the lowercased body.
package detect

import "strings"

// Classification of a raw response body.
type Classification int

const (
	// OK means the body looks like real content and is safe to extract from.
	OK Classification = iota
	// Blocked means the body contains a bot-challenge phrase.
	Blocked
	// TooShort means the body is too small to extract from safely. Treated
	// like a block by the recovery policy: likely an interstitial still loading.
	TooShort
)

// MinContentLength is the smallest body considered conclusive.
const MinContentLength = 50

// Challenge phrases shown on Ozon's block page. Matched case-insensitively.
var blockPhrases = []string{
	"доступ ограничен",
	"не бот",
	"подтвердите",
	"captcha",
	"пазл",
}

// Classify inspects a raw response body. Pure: no state, called fresh per response.
func Classify(raw string) Classification {
	s := strings.ToLower(raw)
	for _, phrase := range blockPhrases {
		if strings.Contains(s, phrase) {
			return Blocked
		}
	}
	if len(strings.TrimSpace(raw)) < MinContentLength {
		return TooShort
	}
	return OK
}

// IsBlocked is a convenience wrapper for callers that only need the bool.
func IsBlocked(raw string) bool {
	return Classify(raw) == Blocked
}
