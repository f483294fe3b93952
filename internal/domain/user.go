package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRole is returned when a role outside the known set is supplied.
var ErrInvalidRole = errors.New("invalid role")

// Role is the closed set of account kinds.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole converts a stored or submitted value into a Role.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleTeacher:
		return RoleTeacher, nil
	case RoleStudent:
		return RoleStudent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, value)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r Role) String() string {
	return string(r)
}

// User represents an account of either role.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	DisplayName  string
	AvatarPath   string
	CreatedAt    time.Time
}

// ProfileUpdate carries the user-editable fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string
	AvatarPath  *string
}

// Empty reports whether the update would change nothing.
func (p ProfileUpdate) Empty() bool {
	return p.DisplayName == nil && p.AvatarPath == nil
}
