package httpapi

import (
	"net/http"

	"homestats.org/internal/audit"
	"homestats.org/internal/permissions"
)

func (a *API) handleCleanupManual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.RequirePermission(r.Context(), caller.ID, permissions.AdminManageSystem); err != nil {
		handleServiceError(w, r, err)
		return
	}
	res := a.sched.ManualCleanup(r.Context())
	a.audit(audit.ActionManualCleanupCall, caller.ID, "", map[string]string{"status": res.Status})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleCleanupInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.RequirePermission(r.Context(), caller.ID, permissions.AdminViewSystemStats); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.sched.Info())
}

func (a *API) handleCleanupStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.RequirePermission(r.Context(), caller.ID, permissions.AdminViewSystemStats); err != nil {
		handleServiceError(w, r, err)
		return
	}
	stats, err := a.sched.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to gather cleanup stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
