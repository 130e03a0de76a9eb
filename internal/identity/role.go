package identity

// Role gates what a staff member may do.
type Role string

const (
	RoleSecretary Role = "secretary"
	RoleDoctor    Role = "doctor"
	RoleAdmin     Role = "admin"

	// RoleSystem is held by background workers, never by a stored user.
	RoleSystem Role = "system"
)

// Valid reports whether r may be assigned to a user account.
func (r Role) Valid() bool {
	switch r {
	case RoleSecretary, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// DefaultRole is given to accounts provisioned on first sign-in.
const DefaultRole = RoleSecretary
