package models

import (
	"time"
)

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleGrader  UserRole = "grader"
	RoleAdmin   UserRole = "admin"
)

// User is the identity projection read from Casdoor. Identity is externally
// owned; nothing here is persisted by this service.
type User struct {
	ID       string   `json:"id"`
	FullName string   `json:"full_name"`
	Email    string   `json:"email"`
	Role     UserRole `json:"role"`

	AvatarURL     *string `json:"avatar_url"`
	EmailVerified bool    `json:"email_verified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanGrade reports whether the role is allowed to work evaluation tasks.
func (u *User) CanGrade() bool {
	return u.Role == RoleGrader || u.Role == RoleAdmin
}
