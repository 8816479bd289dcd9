package patient

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillfolio/pillfolio/internal/boundary"
	"github.com/pillfolio/pillfolio/internal/testutil"
	"github.com/pillfolio/pillfolio/internal/validation"
	"github.com/pillfolio/pillfolio/pkg/patch"
)

type countingSchema struct {
	calls int
	err   error
}

func (s *countingSchema) EnsureSchema(context.Context) error {
	s.calls++
	return s.err
}

func newTestService(t *testing.T) (*Service, *countingSchema) {
	t.Helper()
	store, _ := testutil.OpenStore(t)
	schema := &countingSchema{}
	return NewService(NewRepo(store), schema, boundary.FixedClock(testutil.FixedNow), zerolog.Nop()), schema
}

func TestCreatePatient_Valid(t *testing.T) {
	svc, schema := newTestService(t)

	p, err := svc.CreatePatient(context.Background(), NewPatientInput{Name: "Alex", Gender: strPtr("male")})
	require.NoError(t, err)
	assert.Equal(t, "Alex", p.Name)
	assert.Equal(t, testutil.FixedNow, p.CreatedAt)
	assert.Equal(t, 1, schema.calls)
}

func TestCreatePatient_InvalidHasNoSideEffects(t *testing.T) {
	svc, schema := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePatient(ctx, NewPatientInput{Name: " ", Gender: strPtr("")})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Name is required.", verr.Fields["name"])
	assert.Equal(t, "Gender cannot be empty.", verr.Fields["gender"])
	assert.Zero(t, schema.calls)

	items, err := svc.ListPatients(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCreatePatient_SchemaFailure(t *testing.T) {
	svc, schema := newTestService(t)
	schema.err = errors.New("migration failed")

	_, err := svc.CreatePatient(context.Background(), NewPatientInput{Name: "Alex"})
	assert.ErrorIs(t, err, schema.err)
}

func TestUpdatePatient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreatePatient(ctx, NewPatientInput{Name: "Alex", Gender: strPtr("male")})
	require.NoError(t, err)

	_, err = svc.UpdatePatient(ctx, p.ID, UpdatePatientInput{Gender: patch.Some(" ")})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)

	updated, err := svc.UpdatePatient(ctx, p.ID, UpdatePatientInput{Gender: patch.Null[string]()})
	require.NoError(t, err)
	assert.Nil(t, updated.Gender)

	missing, err := svc.UpdatePatient(ctx, "ghost", UpdatePatientInput{Name: strPtr("X")})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeletePatient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreatePatient(ctx, NewPatientInput{Name: "Alex"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeletePatient(ctx, p.ID, ReassignTo(p.ID)), ErrInvalidReassignTarget)
	require.NoError(t, svc.DeletePatient(ctx, p.ID, DeleteAll()))

	got, err := svc.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
