package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

const adminPathPrefix = "/v1/admin/"

// withAuth enforces the optional API bearer token on /v1 routes and the
// optional admin token on admin routes. With neither configured the API is
// open, which ListenAddr limits to loopback unless remote listening is
// explicitly allowed.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		if s.apiToken != "" && !tokenMatches(bearerToken(r), s.apiToken) {
			s.writeErrorReq(w, r, http.StatusUnauthorized, unauthorized(fmt.Errorf("unauthorized")))
			return
		}

		if s.adminToken != "" && strings.HasPrefix(r.URL.Path, adminPathPrefix) {
			if !tokenMatches(strings.TrimSpace(r.Header.Get("X-Admin-Token")), s.adminToken) {
				s.writeErrorReq(w, r, http.StatusForbidden, apiError{
					status:  http.StatusForbidden,
					code:    "forbidden",
					errCode: ErrCodeForbidden,
					err:     fmt.Errorf("admin token required"),
				})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenMatches(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
