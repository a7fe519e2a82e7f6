package server

import (
	"golang.org/x/text/language"
)

// negotiateLanguage matches the client's Accept-Language preferences against
// the supported tags and returns the winning tag string, fallback when
// nothing matches or the header is unparsable. The overrides table maps a
// negotiated tag to a deployment-specific replacement (e.g. "cs" -> "cz" to
// match template directory names).
func negotiateLanguage(supported []string, acceptHeader, fallback string, overrides map[string]string) string {
	names := []string{fallback}
	tags := []language.Tag{language.Make(fallback)}
	for _, s := range supported {
		if s == fallback {
			continue
		}
		names = append(names, s)
		tags = append(tags, language.Make(s))
	}

	result := fallback
	if prefs, _, err := language.ParseAcceptLanguage(acceptHeader); err == nil {
		// The matcher falls back to tags[0] when nothing matches.
		_, index, _ := language.NewMatcher(tags).Match(prefs...)
		result = names[index]
	}

	if replacement, ok := overrides[result]; ok {
		return replacement
	}
	return result
}
