// Package language provides greeting-based language detection and the
// closed set of locale codes Molo supports.
//
// Detection is only used to seed a brand-new user's preferred language from
// their very first message. After that, language changes happen exclusively
// through the /lang command.
package language

import (
	"regexp"
	"strings"

	"golang.org/x/text/language"
)

// Default is the language assumed when detection finds no match.
const Default = "en"

// Supported is the closed set of locale codes, in detection priority order.
// The order matters: the first language whose greeting pattern matches wins.
var Supported = []string{"en", "xh", "af"}

// greetingPatterns maps each supported language to a compiled word-boundary
// pattern over its common greetings.
var greetingPatterns = map[string]*regexp.Regexp{
	"en": regexp.MustCompile(`(?i)\b(?:hello|hi|hey|good morning|good day|good evening)\b`),
	"xh": regexp.MustCompile(`(?i)\b(?:molo|molweni|mholweni)\b`),
	"af": regexp.MustCompile(`(?i)\b(?:hallo|goeie dag|goeie môre|goeie more)\b`),
}

// names maps locale codes to human-readable language names.
var names = map[string]string{
	"en": "English",
	"xh": "isiXhosa",
	"af": "Afrikaans",
}

// Detect returns the locale code whose greeting pattern matches text,
// checking languages in Supported order. Empty text or no match returns
// defaultLang.
func Detect(text, defaultLang string) string {
	if text == "" {
		return defaultLang
	}
	for _, lang := range Supported {
		if greetingPatterns[lang].MatchString(text) {
			return lang
		}
	}
	return defaultLang
}

// Canonical parses a user-supplied language code (any case, BCP 47 variants
// accepted) and returns the canonical supported locale code. The second
// return value is false when the code does not resolve to a supported
// language.
func Canonical(code string) (string, bool) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	for _, lang := range Supported {
		if base.String() == lang {
			return lang, true
		}
	}
	return "", false
}

// Name returns the human-readable name of a locale code, or "Unknown" for
// codes outside the supported set.
func Name(code string) string {
	if n, ok := names[code]; ok {
		return n
	}
	return "Unknown"
}

// IsSupported reports whether code is exactly one of the supported locale
// codes.
func IsSupported(code string) bool {
	for _, lang := range Supported {
		if code == lang {
			return true
		}
	}
	return false
}
