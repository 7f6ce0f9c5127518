package httpapi

import (
	"net/http"
	"strings"

	"homestats.org/internal/audit"
	"homestats.org/internal/permissions"
)

type grantPermissionRequest struct {
	Permission string `json:"permission"`
}

type softDeleteRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "recover":
		a.handleUserRecover(w, r, userID)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		a.getUser(w, r, userID)
	case http.MethodDelete:
		a.deleteUser(w, r, userID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.RequireOwnershipOrPermission(r.Context(), caller.ID, userID, permissions.AdminReadAllUsers); err != nil {
		handleServiceError(w, r, err)
		return
	}
	user, err := a.svc.GetUser(r.Context(), userID, false)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// deleteUser soft-deletes by default. ?hard=true destroys the account
// permanently and is admin-only regardless of ownership.
func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, userID string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("hard") == "true" {
		if err := a.svc.RequirePermission(r.Context(), caller.ID, permissions.AdminDeleteAnyUser); err != nil {
			handleServiceError(w, r, err)
			return
		}
		if err := a.svc.HardDeleteAccount(r.Context(), userID); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.audit(audit.ActionHardDelete, caller.ID, userID, nil)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "deleted",
		})
		return
	}

	if err := a.svc.RequireOwnershipOrPermission(r.Context(), caller.ID, userID, permissions.AdminDeleteAnyUser); err != nil {
		handleServiceError(w, r, err)
		return
	}
	var req softDeleteRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "user requested"
	}
	if err := a.svc.SoftDeleteAccount(r.Context(), userID, reason); err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(audit.ActionSoftDelete, caller.ID, userID, map[string]string{"reason": reason})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "scheduled_for_deletion",
	})
}

func (a *API) handleUserRecover(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.RequireOwnershipOrPermission(r.Context(), caller.ID, userID, permissions.AdminDeleteAnyUser); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := a.svc.RecoverAccount(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	user, err := a.svc.GetUser(r.Context(), userID, false)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(audit.ActionRecover, caller.ID, userID, nil)
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.RequirePermission(r.Context(), caller.ID, permissions.AdminManagePermission); err != nil {
		handleServiceError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.listUserPermissions(w, r, userID)
	case http.MethodPost:
		a.grantUserPermission(w, r, userID, caller.ID)
	case http.MethodDelete:
		a.revokeUserPermission(w, r, userID, caller.ID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) listUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := a.svc.GetUser(r.Context(), userID, false)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	effective, err := a.svc.EffectivePermissions(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   user.ID,
		"role":      string(user.Role),
		"effective": effective.Sorted(),
	})
}

func (a *API) grantUserPermission(w http.ResponseWriter, r *http.Request, userID, actorID string) {
	var req grantPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := permissions.Parse(req.Permission)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.svc.GrantPermission(r.Context(), userID, perm, actorID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.audit(audit.ActionPermissionGrant, actorID, userID, map[string]string{"permission": string(perm)})
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":    grant.UserID,
		"permission": string(grant.Permission),
		"granted_at": grant.GrantedAt,
		"granted_by": grant.GrantedBy,
	})
}

func (a *API) revokeUserPermission(w http.ResponseWriter, r *http.Request, userID, actorID string) {
	raw := r.URL.Query().Get("permission")
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "permission query parameter is required")
		return
	}
	perm, err := permissions.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := a.svc.RevokePermission(r.Context(), userID, perm)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, http.StatusNotFound, "permission grant not found")
		return
	}
	a.audit(audit.ActionPermissionRevoke, actorID, userID, map[string]string{"permission": string(perm)})
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "revoked",
	})
}
