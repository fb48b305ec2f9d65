package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"maktab.org/internal/audit"
	"maktab.org/internal/auth"
)

type createRoleRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	SchoolID      *string  `json:"school_id"`
	IsSystemRole  bool     `json:"is_system_role"`
	PermissionIDs []string `json:"permission_ids"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type updateRolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermRolesRead) {
		return
	}
	perms, err := a.rbac.ListPermissions(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/permissions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.ensurePermissions(w, r, auth.PermRolesRead) {
		return
	}
	perm, err := a.rbac.GetPermission(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listRoles(w, r)
	case http.MethodPost:
		a.createRole(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermRolesRead) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	var filter auth.RoleFilter
	if v := r.URL.Query().Get("school_id"); v != "" {
		filter.SchoolID = &v
	}
	roles, err := a.rbac.ListRoles(r.Context(), claims, filter)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermissions(w, r, auth.PermRolesCreate) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.CreateRole(r.Context(), claims, auth.CreateRoleInput{
		Name:          req.Name,
		Description:   req.Description,
		SchoolID:      req.SchoolID,
		IsSystemRole:  req.IsSystemRole,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1:
		a.handleRoleByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoleByID(w http.ResponseWriter, r *http.Request, roleID string) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermRolesRead) {
			return
		}
		role, err := a.rbac.GetRole(r.Context(), claims, roleID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPut:
		if !a.ensurePermissions(w, r, auth.PermRolesUpdate) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), claims, roleID, auth.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.update", map[string]any{"role_id": roleID})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		// Deletion checks the store, not the snapshot: a permission revoked
		// mid-session must take effect here immediately.
		if !a.ensureStoredPermission(w, r, auth.PermRolesDelete) {
			return
		}
		if err := a.rbac.DeleteRole(r.Context(), claims, roleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.delete", map[string]any{"role_id": roleID})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermRolesUpdate) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.rbac.SetRolePermissions(r.Context(), claims, roleID, req.PermissionIDs)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions.update", map[string]any{
		"role_id": roleID,
		"count":   fmt.Sprintf("%d", len(req.PermissionIDs)),
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoles(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "roles":
		a.handleUserRole(w, r, parts[0], parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleUserPermissions reports the user's effective grants straight from
// the store, the same union a fresh claims snapshot would carry.
func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermRolesRead) {
		return
	}
	names, err := a.auth.PermissionsForUser(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": names})
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermRolesRead) {
			return
		}
		roles, err := a.rbac.RolesForUser(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if roles == nil {
			roles = []auth.Role{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		// Assignment composes both predicates: the roles:assign grant plus
		// the admin hierarchy floor.
		if !a.ensureRole(w, r, auth.RoleAdmin) {
			return
		}
		if !a.ensurePermissions(w, r, auth.PermRolesAssign) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.RoleID) == "" {
			writeError(w, r, http.StatusBadRequest, "role_id is required")
			return
		}
		if err := a.rbac.AssignRole(r.Context(), claims, userID, req.RoleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.role.assign", map[string]any{
			"user_id": userID,
			"role_id": req.RoleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensureRole(w, r, auth.RoleAdmin) {
		return
	}
	if !a.ensurePermissions(w, r, auth.PermRolesAssign) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := a.rbac.UnassignRole(r.Context(), claims, userID, roleID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.unassign", map[string]any{
		"user_id": userID,
		"role_id": roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}
