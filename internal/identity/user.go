package identity

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	ExternalID     string // subject id at the identity provider
	Email          string
	FullName       string
	Role           Role
	IsActive       bool
	PhoneNumber    string
	Specialization string
	Notes          string
	LastLogin      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UserUpdate carries the profile fields a caller wants changed. Nil fields are left alone.
type UserUpdate struct {
	FullName       *string
	Role           *Role
	PhoneNumber    *string
	Specialization *string
	Notes          *string
}

// Fields returns the names of the fields set on u, in a stable order.
func (u UserUpdate) Fields() []string {
	var fields []string
	if u.FullName != nil {
		fields = append(fields, "fullName")
	}
	if u.Role != nil {
		fields = append(fields, "role")
	}
	if u.PhoneNumber != nil {
		fields = append(fields, "phoneNumber")
	}
	if u.Specialization != nil {
		fields = append(fields, "specialization")
	}
	if u.Notes != nil {
		fields = append(fields, "notes")
	}
	return fields
}

// UserFilter narrows List results.
type UserFilter struct {
	Role       *Role
	ActiveOnly bool
}
