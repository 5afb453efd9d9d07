package jobs

import "strings"

const titleTargetLen = 60

// TrimTitle derives a conversation title from its first user message.
// Messages longer than 60 characters are cut back to the last word boundary
// and get an ellipsis, so the result never exceeds 63 characters.
func TrimTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= titleTargetLen {
		return s
	}
	cut := s[:titleTargetLen]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}
