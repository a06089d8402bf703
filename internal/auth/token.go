package auth

import (
	"net/http"
	"strings"
)

// AccessCookie is the cookie the storefront keeps the access token in.
const AccessCookie = "access"

// ExtractAccessToken returns the access token from the storefront cookie or,
// for API clients, an Authorization: Bearer header. Empty when neither is set.
func ExtractAccessToken(r *http.Request) string {
	if cookie, err := r.Cookie(AccessCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
