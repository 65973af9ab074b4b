package content

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const (
	MaxMessageLength = 4000
	MaxNameLength    = 80
)

var (
	ErrEmpty   = errors.New("content is empty")
	ErrTooLong = errors.New("content is too long")
)

var (
	policy = bluemonday.UGCPolicy()
	strict = bluemonday.StrictPolicy()
)

// Sanitize removes unsafe HTML from the input string using the UGC policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// StripTags removes all markup, leaving plain text. Used for display names.
func StripTags(input string) string {
	return strings.TrimSpace(strict.Sanitize(input))
}

// RenderMarkdown converts a message body to safe HTML.
// Rendering never fails the caller: on error the escaped plain text is returned.
func RenderMarkdown(input string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(input), &buf); err != nil {
		return strict.Sanitize(input)
	}
	return policy.Sanitize(buf.String())
}

// NormalizeMessage trims a message body and checks its length.
func NormalizeMessage(input string) (string, error) {
	msg := strings.TrimSpace(input)
	if msg == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		return "", fmt.Errorf("%w: max %d characters", ErrTooLong, MaxMessageLength)
	}
	return msg, nil
}

// NormalizeName strips markup from a display name and checks its length.
func NormalizeName(input string) (string, error) {
	name := StripTags(input)
	if name == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", fmt.Errorf("%w: max %d characters", ErrTooLong, MaxNameLength)
	}
	return name, nil
}
