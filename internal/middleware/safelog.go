package middleware

import (
	"net/url"
	"strings"
)

// MaskToken оставляет первые четыре символа токена или секрета.
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}

// MaskURL маскирует параметр authorization: с ним идут URL стримов.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if tok := q.Get("authorization"); tok != "" {
		q.Set("authorization", MaskToken(tok))
		u.RawQuery = q.Encode()
	}
	return u.String()
}
