package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a platform account managed by administrators.
type User struct {
	Base
	OrganizationID   *uuid.UUID `json:"organization_id,omitempty" db:"organization_id"`
	Name             string     `json:"name" db:"name"`
	Email            string     `json:"email" db:"email"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	Age              *int       `json:"age,omitempty" db:"age"`
	Phone            *string    `json:"phone,omitempty" db:"phone"`
	DoctorApprovedAt *time.Time `json:"doctor_approved_at,omitempty" db:"doctor_approved_at"`
	DoctorApprovedBy *uuid.UUID `json:"doctor_approved_by,omitempty" db:"doctor_approved_by"`
}

// UserSnapshot is the audited view of a user. It never carries credentials.
type UserSnapshot struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Age   *int      `json:"age,omitempty"`
	Phone *string   `json:"phone,omitempty"`
}

func (u *User) Snapshot() UserSnapshot {
	return UserSnapshot{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Age:   u.Age,
		Phone: u.Phone,
	}
}

// Clone returns a copy safe to hand out of a store.
func (u *User) Clone() *User {
	cp := *u
	return &cp
}

// CreateUserRequest is the payload for creating a user.
type CreateUserRequest struct {
	Name           string     `json:"name" binding:"required,max=255"`
	Email          string     `json:"email" binding:"required,email"`
	Password       string     `json:"password" binding:"required,min=8"`
	Age            *int       `json:"age" binding:"omitempty,gte=0,lte=150"`
	Phone          *string    `json:"phone" binding:"omitempty,max=32"`
	OrganizationID *uuid.UUID `json:"organization_id"`
	Role           string     `json:"role" binding:"omitempty,role_name"`
}

// UpdateUserRequest carries the fields to change. Nil fields are untouched.
type UpdateUserRequest struct {
	Name  *string `json:"name" binding:"omitempty,max=255"`
	Email *string `json:"email" binding:"omitempty,email"`
	Age   *int    `json:"age" binding:"omitempty,gte=0,lte=150"`
	Phone *string `json:"phone" binding:"omitempty,max=32"`
}

// UserFilter represents user search parameters
type UserFilter struct {
	SearchTerm string `json:"search_term" form:"search_term"`
	Pagination
}

// DashboardStats summarises the platform for administrators.
type DashboardStats struct {
	TotalUsers         int64 `json:"total_users"`
	TotalDoctors       int64 `json:"total_doctors"`
	TotalPatients      int64 `json:"total_patients"`
	TotalOrganizations int64 `json:"total_organizations"`
	PendingDoctors     int64 `json:"pending_doctors"`
}
