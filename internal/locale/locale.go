// Package locale defines the fixed set of languages the assistant listens and speaks in.
package locale

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Language is a BCP 47 tag from the supported set.
type Language string

const (
	English Language = "en-US"
	Hindi   Language = "hi-IN"
	Spanish Language = "es-ES"
)

// Default is used when no language has been selected.
const Default = English

var supported = []Language{English, Hindi, Spanish}

var matcher = language.NewMatcher([]language.Tag{
	language.MustParse(string(English)),
	language.MustParse(string(Hindi)),
	language.MustParse(string(Spanish)),
})

// Supported returns the selectable languages in menu order.
func Supported() []Language {
	return append([]Language(nil), supported...)
}

// Parse resolves a user-supplied tag ("hi", "es-MX", "en_us") to the closest supported language.
func Parse(raw string) (Language, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "_", "-"))
	if raw == "" {
		return "", fmt.Errorf("language tag must not be empty")
	}

	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", raw, err)
	}

	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		return "", fmt.Errorf("unsupported language %q (supported: %s)", raw, strings.Join(supportedNames(), ", "))
	}
	return supported[index], nil
}

// Valid reports whether l is one of the supported tags.
func (l Language) Valid() bool {
	for _, candidate := range supported {
		if l == candidate {
			return true
		}
	}
	return false
}

// Tag returns the parsed BCP 47 tag.
func (l Language) Tag() language.Tag {
	tag, err := language.Parse(string(l))
	if err != nil {
		return language.Und
	}
	return tag
}

// Base returns the two-letter language code ("en", "hi", "es").
func (l Language) Base() string {
	base, _ := l.Tag().Base()
	return base.String()
}

// DisplayName returns the language name written in that language.
func (l Language) DisplayName() string {
	name := display.Self.Name(l.Tag())
	if name == "" {
		return string(l)
	}
	return name
}

func (l Language) String() string {
	return string(l)
}

func supportedNames() []string {
	names := make([]string, 0, len(supported))
	for _, l := range supported {
		names = append(names, string(l))
	}
	return names
}
