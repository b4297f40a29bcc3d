package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// adminAuth enforces the single shared bearer key on admin routes (spec §6:
// "absent or mismatched headers on admin routes -> 401"), comparing in
// constant time to avoid a timing side-channel on the key itself.
func adminAuth(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if expected == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{
					ErrorCode: "unauthorized",
					Message:   "missing or invalid bearer token",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}
