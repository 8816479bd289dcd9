package patient

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pillfolio/pillfolio/internal/boundary"
	"github.com/pillfolio/pillfolio/internal/platform/db"
	"github.com/pillfolio/pillfolio/internal/validation"
)

type Service struct {
	patients Repository
	schema   db.SchemaEnsurer
	clock    boundary.Clock
	logger   zerolog.Logger
}

func NewService(patients Repository, schema db.SchemaEnsurer, clock boundary.Clock, logger zerolog.Logger) *Service {
	return &Service{
		patients: patients,
		schema:   schema,
		clock:    clock,
		logger:   logger.With().Str("component", "patients").Logger(),
	}
}

// CreatePatient validates in and stores a new patient. Invalid input is
// reported as a *validation.Error.
func (s *Service) CreatePatient(ctx context.Context, in NewPatientInput) (*Patient, error) {
	if err := validation.Patient(validation.PatientInput{Name: in.Name, Gender: in.Gender}).Err(); err != nil {
		return nil, err
	}
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	p, err := s.patients.Create(ctx, in, s.clock.NowISO())
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("patient_id", p.ID).Bool("primary", p.IsPrimary).Msg("patient created")
	return p, nil
}

// GetPatient returns nil when the patient does not exist.
func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context) ([]*ListItem, error) {
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s.patients.List(ctx)
}

// UpdatePatient applies a partial update and returns nil when the patient
// does not exist. A supplied name or gender must not be blank; an explicit
// null gender clears it.
func (s *Service) UpdatePatient(ctx context.Context, id string, in UpdatePatientInput) (*Patient, error) {
	if err := validation.PatientUpdate(in.Name, in.Gender.Value).Err(); err != nil {
		return nil, err
	}
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s.patients.Update(ctx, id, in, s.clock.NowISO())
}

// DeletePatient removes a patient using strategy. Deleting a missing patient
// is a no-op.
func (s *Service) DeletePatient(ctx context.Context, id string, strategy DeleteStrategy) error {
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := s.patients.DeleteWithStrategy(ctx, id, strategy); err != nil {
		return err
	}
	s.logger.Debug().Str("patient_id", id).Bool("reassign", strategy.Reassign).Msg("patient deleted")
	return nil
}
