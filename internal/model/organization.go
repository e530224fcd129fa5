package model

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a hospital, clinic or lab registered on the platform.
type Organization struct {
	Base
	Name          string     `json:"name" db:"name"`
	Type          string     `json:"type" db:"type"`
	Address       string     `json:"address" db:"address"`
	Phone         string     `json:"phone" db:"phone"`
	Email         string     `json:"email" db:"email"`
	Website       string     `json:"website" db:"website"`
	LicenseNumber string     `json:"license_number" db:"license_number"`
	IsVerified    bool       `json:"is_verified" db:"is_verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	VerifiedBy    *uuid.UUID `json:"verified_by,omitempty" db:"verified_by"`
}

func (o *Organization) Clone() *Organization {
	cp := *o
	return &cp
}

// OrganizationSnapshot is the audited view of verification state.
type OrganizationSnapshot struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	IsVerified bool      `json:"is_verified"`
}

func (o *Organization) Snapshot() OrganizationSnapshot {
	return OrganizationSnapshot{ID: o.ID, Name: o.Name, IsVerified: o.IsVerified}
}
