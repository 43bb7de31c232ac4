package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	richPolicy   = bluemonday.UGCPolicy()
	slugRegex    = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// Length limits for user supplied text.
const (
	MaxTitleLength   = 255
	MaxBodyLength    = 10000
	MaxCommentLength = 2000
	MaxSlugLength    = 100
)

// SanitizeString trims whitespace, removes null bytes and truncates to
// maxLen runes.
func SanitizeString(input string, maxLen int) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return truncate(input, maxLen)
}

// SanitizeText removes all HTML and then applies SanitizeString.
func SanitizeText(input string, maxLen int) string {
	return SanitizeString(strictPolicy.Sanitize(input), maxLen)
}

// SanitizeRichText keeps safe formatting markup only.
func SanitizeRichText(input string, maxLen int) string {
	return SanitizeString(richPolicy.Sanitize(input), maxLen)
}

// ValidateSlug checks lowercase dash separated slugs.
func ValidateSlug(slug string) bool {
	return len(slug) <= MaxSlugLength && slugRegex.MatchString(slug)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}
