package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var handleRegex = regexp.MustCompile(`^[a-z0-9_]{3,20}$`)

var mentionRegex = regexp.MustCompile(`(?:^|[^a-zA-Z0-9_@])@([a-zA-Z0-9_]{3,20})\b`)

var reservedHandles = map[string]struct{}{
	"admin":         {},
	"api":           {},
	"auth":          {},
	"comments":      {},
	"conversations": {},
	"friends":       {},
	"health":        {},
	"media":         {},
	"metrics":       {},
	"notifications": {},
	"posts":         {},
	"profile":       {},
	"settings":      {},
	"stories":       {},
	"support":       {},
	"users":         {},
	"ws":            {},
}

// NormalizeHandle trims a leading @ and lowercases the handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// ValidateHandle validates handle format and reserved names. The handle must
// already be normalized.
func ValidateHandle(handle string) error {
	if !handleRegex.MatchString(handle) {
		return fmt.Errorf("handle must be 3-20 characters and contain only lowercase letters, numbers, and underscores")
	}

	if strings.HasPrefix(handle, "_") || strings.HasSuffix(handle, "_") {
		return fmt.Errorf("handle cannot start or end with an underscore")
	}

	if _, exists := reservedHandles[handle]; exists {
		return fmt.Errorf("handle is reserved")
	}

	return nil
}

// ExtractMentions returns the distinct normalized handles mentioned in text,
// in order of first appearance.
func ExtractMentions(text string) []string {
	var out []string
	for _, m := range mentionRegex.FindAllStringSubmatch(text, -1) {
		h := NormalizeHandle(m[1])
		if ValidateHandle(h) != nil || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
	}
	return out
}
