package api

import (
	"net/http"
	"strings"

	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/identity"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

const (
	ActionUserUpdated     = "USER_UPDATED"
	ActionUserDeactivated = "USER_DEACTIVATED"
	ActionUserReactivated = "USER_REACTIVATED"
)

func currentUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(u))
	}
}

func listUsersHandler(users identity.Directory, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f identity.UserFilter
		if raw := r.URL.Query().Get("role"); raw != "" {
			role := identity.Role(strings.ToLower(raw))
			if !role.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_role", "role must be secretary, doctor or admin")
				return
			}
			f.Role = &role
		}
		f.ActiveOnly = r.URL.Query().Get("active") == "true"

		list, err := users.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := ListResponse[UserResponse]{Count: len(list), Data: make([]UserResponse, 0, len(list))}
		for i := range list {
			resp.Data = append(resp.Data, toUserResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getUserHandler(users identity.Directory, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		u, err := users.FindByID(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(u))
	}
}

// updateUserHandler lets staff edit their own profile and admins edit anyone.
// Only admins may change a role.
func updateUserHandler(users identity.Directory, sink audit.Sink, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req UpdateUserRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		isAdmin := caller.Role == identity.RoleAdmin
		if req.Role != nil && !isAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "only admins can update user roles")
			return
		}
		if id != caller.ID && !isAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "only admins can update other users")
			return
		}

		upd := identity.UserUpdate{
			FullName:       req.FullName,
			PhoneNumber:    req.PhoneNumber,
			Specialization: req.Specialization,
			Notes:          req.Notes,
		}
		if req.Role != nil {
			role := identity.Role(strings.ToLower(*req.Role))
			if !role.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_role", "role must be secretary, doctor or admin")
				return
			}
			upd.Role = &role
		}
		if upd.FullName != nil && strings.TrimSpace(*upd.FullName) == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "fullName must not be empty")
			return
		}

		updated, err := users.Update(r.Context(), id, upd)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		recordUserAudit(r, sink, logger, ActionUserUpdated, caller.ID, updated.ID,
			map[string]any{"updatedFields": upd.Fields()})
		writeJSON(w, http.StatusOK, toUserResponse(updated))
	}
}

func setActiveHandler(users identity.Directory, sink audit.Sink, active bool, logger *logging.Logger) http.HandlerFunc {
	action := ActionUserDeactivated
	if active {
		action = ActionUserReactivated
	}
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		if id == caller.ID && !active {
			writeError(w, http.StatusBadRequest, "validation_error", "you cannot deactivate your own account")
			return
		}

		u, err := users.SetActive(r.Context(), id, active)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		recordUserAudit(r, sink, logger, action, caller.ID, u.ID,
			map[string]any{"externalId": u.ExternalID})
		writeJSON(w, http.StatusOK, toUserResponse(u))
	}
}
