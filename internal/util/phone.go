package util

import (
	"regexp"
	"strings"
)

var nonPhone = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone tries to normalize user input into E.164-like format.
// Ten-digit national numbers default to +1.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	s = nonPhone.ReplaceAllString(s, "")

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	} else if strings.HasPrefix(s, "1") && len(s) == 11 {
		s = "+" + s
	} else if len(s) == 10 && !strings.HasPrefix(s, "+") {
		s = "+1" + s
	}

	return s
}
