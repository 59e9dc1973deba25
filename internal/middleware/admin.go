package middleware

import (
	"context"
	"net/http"

	"ledger/internal/store"
)

type AdminStore interface {
	Access(ctx context.Context, userID, role string) (store.AdminAccess, error)
}

// RequireAdmin lets admins through. A non-empty role must also be granted
// unless the admin is a super admin.
func RequireAdmin(adminStore AdminStore, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			access, err := adminStore.Access(r.Context(), userID, role)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "unable to verify admin")
				return
			}
			if !access.IsAdmin {
				writeError(w, http.StatusForbidden, "admin privileges required")
				return
			}
			if !access.Allows(role) {
				writeError(w, http.StatusForbidden, "missing required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
