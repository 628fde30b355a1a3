package tracker

import (
	"fmt"
	"strings"
)

// DigestMode selects which part of a status text counts as "changed".
type DigestMode string

const (
	DigestFull  DigestMode = "full"
	DigestFacts DigestMode = "facts"
)

func ParseDigestMode(s string) (DigestMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(DigestFull):
		return DigestFull, nil
	case string(DigestFacts):
		return DigestFacts, nil
	default:
		return "", fmt.Errorf("tracker: unknown digest mode %q", s)
	}
}

var factPrefixes = []string{"Status:", "Departure:", "Arrival:", "From:", "To:"}

func digest(text string, mode DigestMode) string {
	if mode != DigestFacts {
		return text
	}
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, p := range factPrefixes {
			if strings.HasPrefix(line, p) {
				b.WriteString(line)
				b.WriteByte('\n')
				break
			}
		}
	}
	// Texts without any fact line fall back to the full text.
	if b.Len() == 0 {
		return text
	}
	return b.String()
}

var landedMarkers = []string{"ARRIVED / GATE ARRIVAL", "GATE ARRIVAL", "ARRIVED", "LANDED"}

// IsLanded reports whether a status text says the flight is on the ground.
func IsLanded(text string) bool {
	up := strings.ToUpper(text)
	for _, m := range landedMarkers {
		if strings.Contains(up, m) {
			return true
		}
	}
	return false
}
