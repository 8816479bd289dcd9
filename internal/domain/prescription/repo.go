package prescription

import "context"

// Repository persists prescriptions. Lookups that match nothing return nil
// with a nil error.
type Repository interface {
	Create(ctx context.Context, in NewPrescriptionInput, now string) (*Prescription, error)
	GetByID(ctx context.Context, id string) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Prescription, error)
	ListAll(ctx context.Context) ([]*Prescription, error)
	Update(ctx context.Context, id string, in UpdatePrescriptionInput, now string) (*Prescription, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, params SearchParams) ([]*Prescription, error)
}
