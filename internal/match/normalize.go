// Package match pairs equivalent markets across venues. Pairing is
// fail-closed: a title that cannot be resolved to exactly one market on each
// venue produces no match, and no trade.
package match

import (
	"strings"
	"time"
	"unicode"
)

// Key builds the canonical match key for a market: the normalized title plus
// the expiry calendar day in UTC. Two venue listings with equal keys are
// candidates for the same underlying event.
func Key(title string, expires time.Time) string {
	return normalizeTitle(title) + "|" + expires.UTC().Format("2006-01-02")
}

// normalizeTitle lowercases, strips punctuation and collapses runs of
// whitespace to single spaces, so cosmetic differences between venue
// listings cancel out.
func normalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	space := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		default:
			// Punctuation separates words the same way whitespace does, so
			// "Fed hike: March?" and "fed hike march" collide.
			space = true
		}
	}
	return b.String()
}
