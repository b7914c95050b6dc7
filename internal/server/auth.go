package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

const actorIDHeader = "X-Actor-ID"

// withAuth enforces the bearer API token on every route except /health, and
// the admin token on /v1/admin/ routes. Either check is skipped when its
// token is not configured.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if s.apiToken != "" && !tokenMatches(bearerToken(r), s.apiToken) {
			s.writeErrorReq(w, r, http.StatusUnauthorized, apiError{
				status:  http.StatusUnauthorized,
				code:    "unauthorized",
				errCode: ErrCodeUnauthorized,
				err:     fmt.Errorf("missing or invalid bearer token"),
			})
			return
		}

		if strings.HasPrefix(r.URL.Path, "/v1/admin/") && s.adminToken != "" &&
			!tokenMatches(strings.TrimSpace(r.Header.Get("X-Admin-Token")), s.adminToken) {
			s.writeErrorReq(w, r, http.StatusForbidden, forbidden(fmt.Errorf("admin token required")))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(value, " ")
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

func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(actorIDHeader))
}

// canAccess reports whether the requesting actor may touch the attachments
// of ownerID.
func (s *Server) canAccess(r *http.Request, ownerID string) bool {
	return s.authorize(r.Context(), actorID(r), ownerID)
}
