package models

import "github.com/golang-jwt/jwt/v5"

// UserRole is the role carried by access tokens issued by the identity provider.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
)

// ChatRole is the author role recorded on chat messages. Only two values exist.
type ChatRole string

const (
	ChatRoleTeacher ChatRole = "teacher"
	ChatRoleStudent ChatRole = "student"
)

// Valid reports whether r is one of the two chat roles.
func (r ChatRole) Valid() bool {
	return r == ChatRoleTeacher || r == ChatRoleStudent
}

// ChatRole maps a token role onto a chat role. Administrative roles have no chat role.
func (r UserRole) ChatRole() (ChatRole, bool) {
	switch r {
	case RoleTeacher:
		return ChatRoleTeacher, true
	case RoleStudent:
		return ChatRoleStudent, true
	default:
		return "", false
	}
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Identity is the caller as seen by the chat subsystem: taken from the session,
// passed explicitly into every authorization and persistence call.
type Identity struct {
	UserID string   `json:"userId"`
	Name   string   `json:"userName"`
	Role   ChatRole `json:"userType"`
}

// Identity derives the chat identity from the claims. ok is false when the
// token carries no chat role or no subject.
func (c *JWTClaims) Identity() (Identity, bool) {
	if c == nil || c.UserID == "" {
		return Identity{}, false
	}
	role, ok := c.Role.ChatRole()
	if !ok {
		return Identity{}, false
	}
	name := c.FullName
	if name == "" {
		name = c.Email
	}
	return Identity{UserID: c.UserID, Name: name, Role: role}, true
}
