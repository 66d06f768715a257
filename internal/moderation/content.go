package moderation

import (
	"math"
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	urlPattern   = regexp.MustCompile(`https?://[^\s]+`)
)

// PrepareContent truncates content to maxChars and, if mask is set,
// replaces email-like and URL-like runs with redaction markers.
func PrepareContent(content string, maxChars int, mask bool) string {
	prepared := content
	if maxChars > 0 && len(prepared) > maxChars {
		prepared = prepared[:maxChars]
	}
	if mask {
		prepared = emailPattern.ReplaceAllString(prepared, "[redacted-email]")
		prepared = urlPattern.ReplaceAllString(prepared, "[redacted-url]")
	}
	return prepared
}

// EstimateCost applies cost = ceil(chars/1000) * cost_per_1k.
func EstimateCost(chars int, costPer1k float64) float64 {
	if chars == 0 {
		return 0
	}
	units := math.Ceil(float64(chars) / 1000)
	return units * costPer1k
}
