// Package i18n picks a message printer for the user's locale. The CLI uses
// it so that byte counters are grouped the way the locale expects.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we format for
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
	language.French,
}

var matcher = language.NewMatcher(SupportedLangs)

// MatchLanguage returns the best supported match for a locale or
// Accept-Language style string.
func MatchLanguage(s string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(s)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// LocaleTag derives a language tag from LC_ALL, LC_NUMERIC or LANG.
func LocaleTag() language.Tag {
	var lang string
	for _, name := range []string{"LC_ALL", "LC_NUMERIC", "LANG"} {
		if lang = os.Getenv(name); lang != "" {
			break
		}
	}
	// Strip encoding and modifier, e.g. de_DE.UTF-8@euro
	if i := strings.IndexAny(lang, ".@"); i != -1 {
		lang = lang[:i]
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return DefaultLang
	}
	tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
	if err != nil {
		return MatchLanguage(lang)
	}
	tag, _, _ = matcher.Match(tag)
	return tag
}

// NewCLIPrinter returns a printer for the system's locale
func NewCLIPrinter() *message.Printer {
	return message.NewPrinter(LocaleTag())
}
