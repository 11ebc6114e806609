package relay

import "unicode/utf8"

const (
	// DefaultPrefix labels every relayed report.
	DefaultPrefix = "ATIS Update: \n"
	// DefaultMaxLen is the hard cap for one outbound chat message, prefix included.
	DefaultMaxLen = 500
	// DefaultMissingText is published when the provider has no report.
	DefaultMissingText = "No ATIS information available."

	ellipsis = "..."
)

// FormatMessage composes prefix+text and enforces maxLen, counted in characters
// (Unicode code points). Over-long messages keep the first maxLen-3 characters
// followed by "...". The untruncated length is always returned.
func FormatMessage(prefix, text string, maxLen int) (msg string, origLen int, truncated bool) {
	msg = prefix + text
	origLen = utf8.RuneCountInString(msg)
	if maxLen <= 0 || origLen <= maxLen {
		return msg, origLen, false
	}
	keep := maxLen - utf8.RuneCountInString(ellipsis)
	if keep < 0 {
		keep = 0
	}
	rs := []rune(msg)
	return string(rs[:keep]) + ellipsis, origLen, true
}
