// Package permission holds the closed catalog of capability tokens that roles
// are built from.
package permission

import (
	"sort"
	"strings"
)

// Permission is an atomic capability token such as "user.create".
type Permission string

func (p Permission) String() string {
	return string(p)
}

// Group is the resource prefix of the permission ("user" for "user.create").
func (p Permission) Group() string {
	if i := strings.IndexByte(string(p), '.'); i > 0 {
		return string(p)[:i]
	}
	return string(p)
}

const (
	UserCreate Permission = "user.create"
	UserRead   Permission = "user.read"
	UserUpdate Permission = "user.update"
	UserDelete Permission = "user.delete"
	UserList   Permission = "user.list"

	RoleCreate Permission = "role.create"
	RoleRead   Permission = "role.read"
	RoleUpdate Permission = "role.update"
	RoleDelete Permission = "role.delete"
	RoleAssign Permission = "role.assign"

	OrganizationCreate Permission = "organization.create"
	OrganizationRead   Permission = "organization.read"
	OrganizationUpdate Permission = "organization.update"
	OrganizationDelete Permission = "organization.delete"
	OrganizationVerify Permission = "organization.verify"

	DoctorApprove Permission = "doctor.approve"
	DoctorReject  Permission = "doctor.reject"
	DoctorSuspend Permission = "doctor.suspend"
	DoctorRead    Permission = "doctor.read"
	DoctorList    Permission = "doctor.list"

	PatientCreate Permission = "patient.create"
	PatientRead   Permission = "patient.read"
	PatientList   Permission = "patient.list"

	ConsultationCreate Permission = "consultation.create"
	ConsultationRead   Permission = "consultation.read"
	ConsultationUpdate Permission = "consultation.update"

	PrescriptionCreate Permission = "prescription.create"
	PrescriptionRead   Permission = "prescription.read"
	PrescriptionUpdate Permission = "prescription.update"
	PrescriptionWrite  Permission = "prescription.write"

	AppointmentCreate Permission = "appointment.create"
	AppointmentRead   Permission = "appointment.read"
	AppointmentUpdate Permission = "appointment.update"
	AppointmentCancel Permission = "appointment.cancel"

	ReportCreate Permission = "report.create"
	ReportRead   Permission = "report.read"

	ProfileRead   Permission = "profile.read"
	ProfileUpdate Permission = "profile.update"

	HealthCreate Permission = "health.create"
	HealthRead   Permission = "health.read"
	HealthUpdate Permission = "health.update"

	MedicalRead      Permission = "medical.read"
	NotificationRead Permission = "notification.read"

	AuditRead Permission = "audit.read"

	SystemSettings Permission = "system.settings"

	// AuditDelete existed in catalog version 1. Audit records are append-only
	// so it was retired in version 2.
	AuditDelete Permission = "audit.delete"
)

// Set is an unordered collection of permissions.
type Set map[Permission]struct{}

// NewSet builds a set from the given permissions.
func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// FromStrings builds a set from raw strings without validating them.
func FromStrings(raw []string) Set {
	s := make(Set, len(raw))
	for _, r := range raw {
		s[Permission(r)] = struct{}{}
	}
	return s
}

func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func (s Set) Add(perms ...Permission) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

// Union adds every member of other to s.
func (s Set) Union(other Set) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Intersect returns the members present in both sets, sorted.
func (s Set) Intersect(other Set) []Permission {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	var out []Permission
	for p := range small {
		if large.Has(p) {
			out = append(out, p)
		}
	}
	sortPermissions(out)
	return out
}

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Slice returns the members sorted lexically.
func (s Set) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// Strings returns the members sorted lexically as plain strings.
func (s Set) Strings() []string {
	perms := s.Slice()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
}
