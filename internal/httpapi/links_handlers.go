package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/auth"
	"accessgate.dev/internal/secret"
)

type createLinkRequest struct {
	access.CreateLinkInput
	// Reuse rotates the token of an existing live link instead of failing with 409.
	Reuse bool `json:"reuse,omitempty"`
}

type createLinkResponse struct {
	Link    access.Link `json:"link"`
	Token   string      `json:"token"`
	Created bool        `json:"created"`
}

type revokeLinkRequest struct {
	Reason string `json:"reason"`
}

type sessionRevokedResponse struct {
	LinkID         string    `json:"link_id"`
	SessionVersion int64     `json:"session_version"`
	RevokedAt      time.Time `json:"revoked_at"`
}

type closeResourceResponse struct {
	ResourceID string        `json:"resource_id"`
	Revoked    []access.Link `json:"revoked"`
}

func (a *API) createLink(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req createLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.authz.Require(r.Context(), p, auth.CapShareLink, req.ResourceID); err != nil {
		handleStaffError(w, r, err)
		return
	}

	var (
		link    access.Link
		token   secret.Secret
		created = true
		err     error
	)
	if req.Reuse {
		link, token, created, err = a.links.FetchOrCreate(r.Context(), req.CreateLinkInput, p.ID)
	} else {
		link, token, err = a.links.CreateLink(r.Context(), req.CreateLinkInput, p.ID)
	}
	if err != nil {
		handleStaffError(w, r, err)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
		w.Header().Set("Location", fmt.Sprintf("/v1/links/%s", link.ID))
	}
	writeJSON(w, code, createLinkResponse{Link: link, Token: token.Reveal(), Created: created})
}

func (a *API) getLink(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id := r.PathValue("id")
	if err := a.authz.Require(r.Context(), p, auth.CapViewLinks, id); err != nil {
		handleStaffError(w, r, err)
		return
	}
	link, err := a.links.Get(r.Context(), id, p.ID)
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (a *API) listLinks(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	resource := r.PathValue("resource")
	if err := a.authz.Require(r.Context(), p, auth.CapViewLinks, resource); err != nil {
		handleStaffError(w, r, err)
		return
	}
	links, err := a.links.ListByResource(r.Context(), resource)
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	if links == nil {
		links = []access.Link{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (a *API) revokeLink(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id := r.PathValue("id")
	var req revokeLinkRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := a.authz.Require(r.Context(), p, auth.CapRevokeLink, id); err != nil {
		handleStaffError(w, r, err)
		return
	}
	link, err := a.links.Revoke(r.Context(), id, p.ID, req.Reason)
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (a *API) revokeSession(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id := r.PathValue("id")
	if err := a.authz.Require(r.Context(), p, auth.CapRevokeSession, id); err != nil {
		handleStaffError(w, r, err)
		return
	}
	link, err := a.links.RevokeSession(r.Context(), id, p.ID)
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionRevokedResponse{
		LinkID:         link.ID,
		SessionVersion: link.SessionVersion,
		RevokedAt:      link.UpdatedAt,
	})
}

func (a *API) closeResource(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	resource := r.PathValue("resource")
	if err := a.authz.Require(r.Context(), p, auth.CapCloseResource, resource); err != nil {
		handleStaffError(w, r, err)
		return
	}
	revoked, err := a.links.RevokeResource(r.Context(), resource, p.ID)
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	if revoked == nil {
		revoked = []access.Link{}
	}
	writeJSON(w, http.StatusOK, closeResourceResponse{ResourceID: resource, Revoked: revoked})
}
