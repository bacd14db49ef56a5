package httpapi

import (
	"net/http"
	"time"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/secret"
)

type otpRequest struct {
	Token string `json:"token"`
}

type otpResponse struct {
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

type sessionResponse struct {
	SessionToken   string    `json:"session_token"`
	SessionVersion int64     `json:"session_version"`
	ExpiresAt      time.Time `json:"expires_at"`
	ResourceID     string    `json:"resource_id"`
}

type currentSessionResponse struct {
	LinkID         string     `json:"link_id"`
	ResourceID     string     `json:"resource_id"`
	StakeholderID  string     `json:"stakeholder_id"`
	ContactName    string     `json:"contact_name,omitempty"`
	SessionVersion int64      `json:"session_version"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func grantResponse(g access.SessionGrant) sessionResponse {
	return sessionResponse{
		SessionToken:   g.Token.Reveal(),
		SessionVersion: g.Version,
		ExpiresAt:      g.ExpiresAt,
		ResourceID:     g.Link.ResourceID,
	}
}

func (a *API) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	link, _, err := a.links.RequestOTP(r.Context(), secret.Parse(req.Token))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	resp := otpResponse{Status: "sent"}
	if link.OTPExpiresAt != nil {
		resp.ExpiresAt = *link.OTPExpiresAt
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (a *API) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	grant, err := a.links.VerifyOTP(r.Context(), secret.Parse(req.Token), secret.Parse(req.Code))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse(grant))
}

func (a *API) currentSession(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		a.unauthorized(w, r, "missing session token")
		return
	}
	link, err := a.links.ValidateSession(r.Context(), secret.Parse(token))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currentSessionResponse{
		LinkID:         link.ID,
		ResourceID:     link.ResourceID,
		StakeholderID:  link.StakeholderID,
		ContactName:    link.ContactName,
		SessionVersion: link.SessionVersion,
		ExpiresAt:      link.SessionExpiresAt,
	})
}

func (a *API) refreshSession(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		a.unauthorized(w, r, "missing session token")
		return
	}
	grant, err := a.links.RefreshSession(r.Context(), secret.Parse(token))
	if err != nil {
		handlePortalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse(grant))
}
