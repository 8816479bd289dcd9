package prescription

import "github.com/pillfolio/pillfolio/pkg/patch"

type Prescription struct {
	ID              string   `json:"id"`
	PatientID       string   `json:"patientId"`
	PhotoURI        string   `json:"photoUri"`
	DoctorName      string   `json:"doctorName"`
	DoctorSpecialty *string  `json:"doctorSpecialty"`
	Condition       string   `json:"condition"`
	Tags            []string `json:"tags"`
	VisitDate       string   `json:"visitDate"`
	Notes           *string  `json:"notes"`
	CreatedAt       string   `json:"createdAt"`
	UpdatedAt       string   `json:"updatedAt"`
}

type NewPrescriptionInput struct {
	PatientID       string
	PhotoURI        string
	DoctorName      string
	DoctorSpecialty *string
	Condition       string
	Tags            []string
	VisitDate       string
	Notes           *string
}

// UpdatePrescriptionInput carries a partial update. Nil fields keep their
// stored value; a set patch.Field overwrites, including with null.
type UpdatePrescriptionInput struct {
	PhotoURI        *string
	DoctorName      *string
	DoctorSpecialty patch.Field[string]
	Condition       *string
	Tags            []string
	VisitDate       *string
	Notes           patch.Field[string]
}

// SearchParams scopes a search to PatientID unless SearchAllPatients is
// set. A blank Query matches every prescription in scope.
type SearchParams struct {
	PatientID         string
	Query             string
	SearchAllPatients bool
}
