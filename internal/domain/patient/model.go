package patient

import (
	"errors"

	"github.com/pillfolio/pillfolio/pkg/patch"
)

var (
	// ErrNotFound is returned when an operation needs a patient that does
	// not exist, such as a reassignment target.
	ErrNotFound = errors.New("patient not found")

	// ErrInvalidReassignTarget is returned when a reassignment names no
	// target or names the patient being deleted.
	ErrInvalidReassignTarget = errors.New("a different target patient is required for reassignment")
)

// DefaultRelationship labels the patient created on first use.
const DefaultRelationship = "Self"

type Patient struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Relationship *string `json:"relationship"`
	Gender       *string `json:"gender"`
	IsPrimary    bool    `json:"isPrimary"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

// ListItem is a patient with the number of prescriptions they own.
type ListItem struct {
	Patient
	PrescriptionsCount int `json:"prescriptionsCount"`
}

type NewPatientInput struct {
	Name         string  `json:"name"`
	Relationship *string `json:"relationship"`
	Gender       *string `json:"gender"`
	IsPrimary    bool    `json:"isPrimary"`
}

// UpdatePatientInput carries a partial update. Absent fields keep their
// stored value; an explicit null clears an optional field.
type UpdatePatientInput struct {
	Name         *string             `json:"name"`
	Relationship patch.Field[string] `json:"relationship"`
	Gender       patch.Field[string] `json:"gender"`
	IsPrimary    *bool               `json:"isPrimary"`
}

// DeleteStrategy decides what happens to a patient's prescriptions when the
// patient is deleted.
type DeleteStrategy struct {
	// Reassign moves the prescriptions to TargetPatientID instead of
	// deleting them with the patient.
	Reassign        bool   `json:"reassign"`
	TargetPatientID string `json:"targetPatientId,omitempty"`
}

// DeleteAll removes the patient together with their prescriptions.
func DeleteAll() DeleteStrategy { return DeleteStrategy{} }

// ReassignTo moves the prescriptions to target before deleting the patient.
func ReassignTo(target string) DeleteStrategy {
	return DeleteStrategy{Reassign: true, TargetPatientID: target}
}
