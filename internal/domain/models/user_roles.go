package models

type UserRole uint8

const (
	UserRoleUnspecified UserRole = iota
	UserRoleUser
	UserRoleAdmin
	UserRoleViewer
)

func (r UserRole) String() string {
	switch r {
	case UserRoleUser:
		return "user"
	case UserRoleAdmin:
		return "admin"
	case UserRoleViewer:
		return "viewer"
	default:
		return "unspecified"
	}
}
