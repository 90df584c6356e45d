package consent

import (
	"strings"

	"github.com/relaypoint/outreach-engine/internal/model"
)

// Keyword classes for inbound replies. The trimmed, lowercased reply must
// equal a keyword exactly; "STOP please" is an ordinary reply, not an
// opt-out. Opt-out is checked before the other classes.
var (
	optOutKeywords = map[string]struct{}{
		"stop": {}, "stopall": {}, "unsubscribe": {}, "cancel": {},
		"end": {}, "quit": {}, "revoke": {}, "optout": {}, "opt-out": {},
	}
	optInKeywords = map[string]struct{}{
		"yes": {}, "y": {}, "start": {}, "unstop": {}, "subscribe": {},
		"optin": {}, "opt-in": {}, "join": {},
	}
	declineKeywords = map[string]struct{}{
		"no": {}, "n": {}, "nope": {}, "decline": {}, "nothanks": {}, "no thanks": {},
	}
)

// Classify normalizes a free-text reply against the fixed keyword sets.
// It returns the resulting consent state and true on a match. Unmatched
// text is not a consent event and must be passed through to downstream
// reply handling.
func Classify(raw string) (model.ConsentState, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return model.ConsentNotSet, false
	}

	if _, ok := optOutKeywords[s]; ok {
		return model.ConsentOptedOut, true
	}
	if _, ok := optInKeywords[s]; ok {
		return model.ConsentOptedIn, true
	}
	if _, ok := declineKeywords[s]; ok {
		return model.ConsentDeclined, true
	}

	return model.ConsentNotSet, false
}
