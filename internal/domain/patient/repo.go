package patient

import "context"

// Repository persists patients. Lookups that match nothing return nil with
// a nil error.
type Repository interface {
	Create(ctx context.Context, in NewPatientInput, now string) (*Patient, error)
	GetByID(ctx context.Context, id string) (*Patient, error)
	List(ctx context.Context) ([]*ListItem, error)
	Update(ctx context.Context, id string, in UpdatePatientInput, now string) (*Patient, error)
	Delete(ctx context.Context, id string) error
	DeleteWithStrategy(ctx context.Context, id string, strategy DeleteStrategy) error
}
