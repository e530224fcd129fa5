package permission

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/jwalitptl/admin-rbac/pkg/errors"
)

// CurrentVersion is the catalog version compiled into this build.
const CurrentVersion = 2

var current = []Permission{
	UserCreate, UserRead, UserUpdate, UserDelete, UserList,
	RoleCreate, RoleRead, RoleUpdate, RoleDelete, RoleAssign,
	OrganizationCreate, OrganizationRead, OrganizationUpdate, OrganizationDelete, OrganizationVerify,
	DoctorApprove, DoctorReject, DoctorSuspend, DoctorRead, DoctorList,
	PatientCreate, PatientRead, PatientList,
	ConsultationCreate, ConsultationRead, ConsultationUpdate,
	PrescriptionCreate, PrescriptionRead, PrescriptionUpdate, PrescriptionWrite,
	AppointmentCreate, AppointmentRead, AppointmentUpdate, AppointmentCancel,
	ReportCreate, ReportRead,
	ProfileRead, ProfileUpdate,
	HealthCreate, HealthRead, HealthUpdate,
	MedicalRead, NotificationRead,
	AuditRead,
	SystemSettings,
}

// retired maps a permission to the catalog version that dropped it.
var retired = map[Permission]int{
	AuditDelete: 2,
}

// Catalog is an immutable, versioned permission vocabulary.
type Catalog struct {
	version     int
	permissions Set
	retired     map[Permission]int
}

// Entry describes one catalog member.
type Entry struct {
	Permission Permission `json:"permission"`
	Group      string     `json:"group"`
}

// NewCatalog builds a catalog. retired may be nil.
func NewCatalog(version int, perms []Permission, retiredIn map[Permission]int) *Catalog {
	r := make(map[Permission]int, len(retiredIn))
	for p, v := range retiredIn {
		r[p] = v
	}
	return &Catalog{
		version:     version,
		permissions: NewSet(perms...),
		retired:     r,
	}
}

var defaultCatalog = NewCatalog(CurrentVersion, current, retired)

// Default returns the catalog compiled into this build.
func Default() *Catalog {
	return defaultCatalog
}

func (c *Catalog) Version() int {
	return c.version
}

// All returns a copy of every permission in the catalog.
func (c *Catalog) All() Set {
	return c.permissions.Clone()
}

func (c *Catalog) IsValid(p Permission) bool {
	return c.permissions.Has(p)
}

// RetiredIn reports the catalog version that retired p.
func (c *Catalog) RetiredIn(p Permission) (int, bool) {
	v, ok := c.retired[p]
	return v, ok
}

// Validate fails with UnknownPermission naming every offender.
func (c *Catalog) Validate(perms ...Permission) error {
	var bad []string
	for _, p := range perms {
		if c.IsValid(p) {
			continue
		}
		if v, ok := c.retired[p]; ok {
			bad = append(bad, fmt.Sprintf("%s (retired in catalog v%d)", p, v))
			continue
		}
		bad = append(bad, string(p))
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return apperrors.UnknownPermission(strings.Join(bad, ", "))
}

// ValidateStrings is Validate for raw input.
func (c *Catalog) ValidateStrings(raw []string) ([]Permission, error) {
	perms := make([]Permission, len(raw))
	for i, r := range raw {
		perms[i] = Permission(r)
	}
	if err := c.Validate(perms...); err != nil {
		return nil, err
	}
	return perms, nil
}

// Describe lists the catalog grouped by resource prefix.
func (c *Catalog) Describe() []Entry {
	perms := c.permissions.Slice()
	out := make([]Entry, len(perms))
	for i, p := range perms {
		out[i] = Entry{Permission: p, Group: p.Group()}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}
