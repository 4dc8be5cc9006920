package domain

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TitleSeparator joins the host and the humanized path segment of a derived title.
const TitleSeparator = " - "

// DeriveTitle builds a readable title for a URL that has none.
// Examples:
//
//	"https://www.example.com/"                  -> "example.com"
//	"https://example.com/blog/my-first_post"    -> "example.com - My First Post"
func DeriveTitle(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return host
	}

	last := segments[len(segments)-1]
	if unescaped, err := url.PathUnescape(last); err == nil {
		last = unescaped
	}

	human := humanize(last)
	if human == "" {
		return host
	}
	return host + TitleSeparator + human
}

// humanize converts kebab-case or snake_case to Title Case.
func humanize(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
