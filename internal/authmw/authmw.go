// Package authmw guards the job API with a shared bearer token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const scheme = "bearer "

// BearerToken returns middleware that admits requests whose Authorization
// header carries token. The scheme is matched case-insensitively and the
// token in constant time. An empty token rejects every request.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				deny(w, "api token not configured")
				return
			}

			auth := r.Header.Get("Authorization")
			if len(auth) <= len(scheme) || !strings.EqualFold(auth[:len(scheme)], scheme) {
				deny(w, "missing or malformed authorization header")
				return
			}

			got := []byte(strings.TrimSpace(auth[len(scheme):]))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				deny(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sdtom"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
