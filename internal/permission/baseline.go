package permission

// Baseline role names created by seeding.
const (
	RoleSuperAdmin    = "super_admin"
	RoleHospitalAdmin = "hospital_admin"
	RoleDoctor        = "doctor"
	RolePatient       = "patient"
)

// RoleDefinition is the seeded shape of a baseline role.
type RoleDefinition struct {
	Name        string
	Description string
	Permissions []Permission
}

// Baseline returns the four seeded roles. super_admin receives every
// permission in c.
func Baseline(c *Catalog) []RoleDefinition {
	return []RoleDefinition{
		{
			Name:        RoleSuperAdmin,
			Description: "System administrator with full access",
			Permissions: c.All().Slice(),
		},
		{
			Name:        RoleHospitalAdmin,
			Description: "Hospital administrator - manages doctors and patients",
			Permissions: []Permission{
				UserRead, UserUpdate, UserList,
				DoctorApprove, DoctorRead, DoctorList, DoctorSuspend,
				PatientRead, PatientList,
				AuditRead,
				OrganizationRead, OrganizationUpdate,
			},
		},
		{
			Name:        RoleDoctor,
			Description: "Doctor - can consult patients",
			Permissions: []Permission{
				PatientRead, PatientCreate, PatientList,
				ConsultationCreate, ConsultationRead, ConsultationUpdate,
				PrescriptionCreate, PrescriptionRead, PrescriptionUpdate, PrescriptionWrite,
				AppointmentRead, AppointmentUpdate,
				ReportRead, ReportCreate,
				ProfileRead, ProfileUpdate,
			},
		},
		{
			Name:        RolePatient,
			Description: "Patient - can manage own health records",
			Permissions: []Permission{
				ProfileRead, ProfileUpdate,
				HealthCreate, HealthRead, HealthUpdate,
				ConsultationRead,
				AppointmentCreate, AppointmentRead, AppointmentCancel,
				MedicalRead,
				PrescriptionRead,
				NotificationRead,
			},
		},
	}
}

// IsBaseline reports whether name is one of the seeded roles.
func IsBaseline(name string) bool {
	switch name {
	case RoleSuperAdmin, RoleHospitalAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}
