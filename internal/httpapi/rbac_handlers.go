package httpapi

import (
	"net/http"
	"strings"

	"accessgate.dev/internal/audit"
	"accessgate.dev/internal/auth"
)

type changeRoleRequest struct {
	Role string `json:"role"`
}

type setActiveRequest struct {
	Active *bool `json:"is_active"`
}

type canManageResponse struct {
	Manager string    `json:"manager"`
	Target  string    `json:"target"`
	Allowed bool      `json:"allowed"`
	Roles   [2]string `json:"roles"`
}

func (a *API) getPrincipal(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id := r.PathValue("id")
	if id == "me" || id == p.ID {
		writeJSON(w, http.StatusOK, p)
		return
	}
	if err := a.authz.Require(r.Context(), p, auth.CapViewPrincipals, id); err != nil {
		handleStaffError(w, r, err)
		return
	}
	target, err := a.authz.Principal(r.Context(), id)
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Role) == "" {
		writeError(w, r, http.StatusBadRequest, "role is required")
		return
	}
	updated, err := a.authz.ChangeRole(r.Context(), p.ID, r.PathValue("id"), auth.Role(req.Role))
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) setActive(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var req setActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Active == nil {
		writeError(w, r, http.StatusBadRequest, "is_active is required")
		return
	}
	updated, err := a.authz.SetActive(r.Context(), p.ID, r.PathValue("id"), *req.Active)
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// canManage answers the role check without recording a denial.
func (a *API) canManage(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	manager, err := a.authz.Principal(r.Context(), r.PathValue("id"))
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	target, err := a.authz.Principal(r.Context(), r.PathValue("target"))
	if err != nil {
		handleStaffError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, canManageResponse{
		Manager: manager.ID,
		Target:  target.ID,
		Allowed: manager.Active && auth.CanManage(manager, target),
		Roles:   [2]string{string(manager.Role), string(target.Role)},
	})
}

func (a *API) queryAudit(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	resource := strings.TrimSpace(q.Get("resource"))
	actor := strings.TrimSpace(q.Get("actor"))
	subject := strings.TrimSpace(q.Get("subject"))

	set := 0
	for _, v := range []string{resource, actor, subject} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		writeError(w, r, http.StatusBadRequest, "exactly one of resource, actor or subject is required")
		return
	}
	if err := a.authz.Require(r.Context(), p, auth.CapReadAudit, resource+actor+subject); err != nil {
		handleStaffError(w, r, err)
		return
	}

	var events []audit.Event
	switch {
	case resource != "":
		events, err = a.audit.QueryByResource(r.Context(), resource, limit)
	case actor != "":
		events, err = a.audit.QueryByActor(r.Context(), actor, limit)
	default:
		events, err = a.audit.QueryBySubject(r.Context(), subject, limit)
	}
	if err != nil {
		unexpected(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
