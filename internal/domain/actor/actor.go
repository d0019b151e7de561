// Package actor defines the authenticated identity passed into every engine call.
package actor

import "fmt"

// Role is the role an authenticated user acts under.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleDoctor         Role = "doctor"
	RoleNurse          Role = "nurse"
	RoleRecordsOfficer Role = "records_officer"
	RoleCashier        Role = "cashier"
	RolePharmacist     Role = "pharmacist"
	RoleLaboratoryTech Role = "laboratory_tech"
	RolePatient        Role = "patient"
)

var knownRoles = map[Role]bool{
	RoleAdmin: true, RoleDoctor: true, RoleNurse: true, RoleRecordsOfficer: true,
	RoleCashier: true, RolePharmacist: true, RoleLaboratoryTech: true, RolePatient: true,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return knownRoles[r] }

// Actor identifies who is performing an engine operation. It is always passed
// explicitly; engines never read identity from ambient state.
type Actor struct {
	ID        int64  `json:"id"`
	Role      Role   `json:"role"`
	PatientID *int64 `json:"patient_id,omitempty"`
}

// Is reports whether the actor holds any of roles.
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// OwnsPatient reports whether a patient actor is acting on their own record.
func (a Actor) OwnsPatient(patientID int64) bool {
	return a.Role == RolePatient && a.PatientID != nil && *a.PatientID == patientID
}

func (a Actor) String() string {
	return fmt.Sprintf("%s#%d", a.Role, a.ID)
}
