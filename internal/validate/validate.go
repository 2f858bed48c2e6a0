// Package validate holds the client-side input rules for display names,
// message text and file names.
package validate

import (
	"errors"
	"html"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxUsernameLen = 20
	MaxMessageLen  = 2000
	MaxFileNameLen = 128
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidMessage  = errors.New("invalid message")
)

var (
	strictPolicy = bluemonday.StrictPolicy()

	scriptScheme = regexp.MustCompile(`(?i)j\s*a\s*v\s*a\s*s\s*c\s*r\s*i\s*p\s*t\s*:`)
	eventHandler = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	angles       = strings.NewReplacer("<", "", ">", "")
)

// Username trims s and checks it against the display name rules: 1 to 20
// characters drawn from letters, digits, underscore, hyphen and whitespace.
// It returns the trimmed name.
func Username(s string) (string, error) {
	name := strings.TrimSpace(s)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxUsernameLen {
		return "", ErrInvalidUsername
	}
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
		case r == '_', r == '-':
		default:
			return "", ErrInvalidUsername
		}
	}
	return name, nil
}

// Message trims s and rejects empty or oversized text.
func Message(s string) (string, error) {
	text := strings.TrimSpace(s)
	n := utf8.RuneCountInString(text)
	if n == 0 || n > MaxMessageLen {
		return "", ErrInvalidMessage
	}
	return text, nil
}

// SanitizeText removes markup, javascript: schemes and inline event
// handler attributes. Plain text passes through unchanged apart from
// entity decoding.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	out := html.UnescapeString(strictPolicy.Sanitize(s))
	out = angles.Replace(out)
	for {
		next := eventHandler.ReplaceAllString(scriptScheme.ReplaceAllString(out, ""), "")
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(out)
}

// SanitizeFileName keeps only the base name, sanitized and capped.
func SanitizeFileName(s string) string {
	name := strings.ReplaceAll(s, `\`, "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	name = SanitizeText(name)
	if utf8.RuneCountInString(name) > MaxFileNameLen {
		name = string([]rune(name)[:MaxFileNameLen])
	}
	return name
}
