package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	unknownCaller = "unknown"
)

type staffHandler func(w http.ResponseWriter, r *http.Request, p auth.Principal)

// staff verifies the SSO assertion and loads the principal. The role always
// comes from the principal store.
func (a *API) staff(next staffHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.unauthorized(w, r, err.Error())
			return
		}
		claims, err := a.identity.Verify(token)
		if err != nil {
			a.unauthorized(w, r, "invalid staff token")
			return
		}
		principal, err := a.authz.ResolveIdentity(r.Context(), claims)
		if err != nil {
			// ResolveIdentity audits its own denials.
			if errors.Is(err, auth.ErrUnauthorized) {
				challenge(w, r)
				return
			}
			unexpected(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next(w, r.WithContext(ctx), principal)
	})
}

// unauthorized records the rejected credential and answers 401. The caller
// is unidentified at this point, so subject and actor stay unknown.
func (a *API) unauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	a.audit.Record(r.Context(), audit.Event{
		Subject: unknownCaller,
		Actor:   unknownCaller,
		Action:  audit.ActionAccessDenied,
		Details: map[string]string{
			"reason": reason,
			"path":   obs.CanonicalPath(r.URL.Path),
		},
	})
	challenge(w, r)
}

func challenge(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="accessgate"`)
	writeError(w, r, http.StatusUnauthorized, msgUnauthorized)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
