package store

import (
	"context"
	"database/sql"
	"errors"
)

type AdminStore struct {
	db DB
}

// AdminAccess describes what a user may do on the admin surface.
type AdminAccess struct {
	IsAdmin bool `db:"is_admin"`
	IsSuper bool `db:"is_super"`
	HasRole bool `db:"has_role"`
}

func (a AdminAccess) Allows(role string) bool {
	if !a.IsAdmin {
		return false
	}
	return a.IsSuper || role == "" || a.HasRole
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

// Access resolves admin membership and one role in a single query. Unknown
// users get the zero value.
func (s *AdminStore) Access(ctx context.Context, userID, role string) (AdminAccess, error) {
	var row AdminAccess
	err := s.db.GetContext(ctx, &row, `
		SELECT TRUE AS is_admin,
		       a.is_super,
		       EXISTS (
		           SELECT 1
		           FROM admin_roles r
		           WHERE r.admin_user_id = a.user_id AND r.role = $2
		       ) AS has_role
		FROM admins a
		WHERE a.user_id = $1
	`, userID, role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AdminAccess{}, nil
		}
		return AdminAccess{}, err
	}
	return row, nil
}
