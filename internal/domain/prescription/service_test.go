package prescription

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillfolio/pillfolio/internal/boundary"
	"github.com/pillfolio/pillfolio/internal/domain/patient"
	"github.com/pillfolio/pillfolio/internal/testutil"
)

// -- Recording boundaries --

type fakeCompressor struct {
	mu       sync.Mutex
	calls    []string
	released []string
	err      error
}

func (c *fakeCompressor) CompressImage(_ context.Context, sourceURI string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, sourceURI)
	if c.err != nil {
		return "", c.err
	}
	return sourceURI + ".compressed", nil
}

func (c *fakeCompressor) Release(ctx context.Context, uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.released = append(c.released, uri)
	return nil
}

type savedImage struct {
	source, name, uri string
}

type fakeStorage struct {
	mu        sync.Mutex
	saved     []savedImage
	deleted   []string
	saveErr   error
	deleteErr error
}

func (s *fakeStorage) SaveImage(_ context.Context, sourceURI, targetFileName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	uri := "file://mock-storage/" + targetFileName
	s.saved = append(s.saved, savedImage{source: sourceURI, name: targetFileName, uri: uri})
	return uri, nil
}

func (s *fakeStorage) DeleteFile(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.deleted = append(s.deleted, uri)
	return s.deleteErr
}

type fakePicker struct {
	picked  *boundary.PickedImage
	err     error
	sources []boundary.ImageSource
}

func (p *fakePicker) PickImage(_ context.Context, source boundary.ImageSource) (*boundary.PickedImage, error) {
	p.sources = append(p.sources, source)
	return p.picked, p.err
}

// faultyRepo fails writes on demand.
type faultyRepo struct {
	Repository
	createErr error
	updateErr error
}

func (r *faultyRepo) Create(ctx context.Context, in NewPrescriptionInput, now string) (*Prescription, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	return r.Repository.Create(ctx, in, now)
}

func (r *faultyRepo) Update(ctx context.Context, id string, in UpdatePrescriptionInput, now string) (*Prescription, error) {
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	return r.Repository.Update(ctx, id, in, now)
}

type flowFixture struct {
	*fixture
	svc        *Service
	repo       *faultyRepo
	compressor *fakeCompressor
	storage    *fakeStorage
	picker     *fakePicker
	patientID  string
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	store, migrator := testutil.OpenStore(t)
	f := &fixture{store: store, repo: NewRepo(store), patients: patient.NewRepo(store)}

	ff := &flowFixture{
		fixture:    f,
		repo:       &faultyRepo{Repository: f.repo},
		compressor: &fakeCompressor{},
		storage:    &fakeStorage{},
		picker:     &fakePicker{},
	}
	ff.svc = NewService(ff.repo, f.patients, migrator, Boundaries{
		Picker:     ff.picker,
		Compressor: ff.compressor,
		Storage:    ff.storage,
		Clock:      boundary.FixedClock(testutil.FixedNow),
	}, zerolog.Nop())
	ff.patientID = f.patient(t, "Alex")
	return ff
}

func (ff *flowFixture) count(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, ff.store.QueryRow(context.Background(), `SELECT COUNT(*) FROM prescriptions`).Scan(&n))
	return n
}

func validDraft(patientID string) Draft {
	return Draft{
		PatientID:       patientID,
		PhotoURI:        "file://picked/photo.png",
		DoctorName:      " Dr. Patel ",
		DoctorSpecialty: "  ",
		Condition:       "Hypertension",
		Tags:            []string{"bp", "daily"},
		VisitDate:       "2025-01-15",
		Notes:           " after meals ",
	}
}

func TestParseTagInput(t *testing.T) {
	assert.Equal(t, []string{"bp", "daily", "evening"}, ParseTagInput(" bp, daily, , BP, evening "))
	assert.Equal(t, []string{"Morning", "x"}, ParseTagInput("Morning,morning,MORNING, x"))
	assert.Equal(t, []string{}, ParseTagInput(" , ,"))
}

func TestAdd_Success(t *testing.T) {
	ff := newFlowFixture(t)

	res, err := ff.svc.Add(context.Background(), validDraft(ff.patientID))
	require.NoError(t, err)
	require.True(t, res.OK())

	p := res.Prescription
	assert.Equal(t, []string{"file://picked/photo.png"}, ff.compressor.calls)
	require.Len(t, ff.storage.saved, 1)
	saved := ff.storage.saved[0]
	assert.Equal(t, "file://picked/photo.png.compressed", saved.source)
	assert.True(t, strings.HasPrefix(saved.name, "prescription-"))
	assert.True(t, strings.HasSuffix(saved.name, ".jpg"))
	assert.Equal(t, saved.uri, p.PhotoURI)

	assert.Equal(t, "Dr. Patel", p.DoctorName)
	assert.Nil(t, p.DoctorSpecialty)
	require.NotNil(t, p.Notes)
	assert.Equal(t, "after meals", *p.Notes)
	assert.Equal(t, testutil.FixedNow, p.CreatedAt)
	assert.Empty(t, ff.storage.deleted)
	assert.Equal(t, []string{"file://picked/photo.png.compressed"}, ff.compressor.released)
}

func TestAdd_NormalizesTags(t *testing.T) {
	ff := newFlowFixture(t)

	d := validDraft(ff.patientID)
	d.Tags = []string{"  ", " bp ", "BP", "Daily", "daily"}
	res, err := ff.svc.Add(context.Background(), d)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Errors)
	assert.Equal(t, []string{"bp", "Daily"}, res.Prescription.Tags)

	stored, err := ff.repo.GetByID(context.Background(), res.Prescription.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bp", "Daily"}, stored.Tags)
}

func TestAdd_BlankTagsAreMissingTags(t *testing.T) {
	ff := newFlowFixture(t)

	d := validDraft(ff.patientID)
	d.Tags = []string{"  ", ""}
	res, err := ff.svc.Add(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tags": "At least one tag is required."}, res.Errors)
	assert.Empty(t, ff.compressor.calls)
	assert.Zero(t, ff.count(t))
}

func TestAdd_SaveFailureIsReturnedUnchanged(t *testing.T) {
	ff := newFlowFixture(t)
	ff.storage.saveErr = errors.New("no space left on device")

	_, err := ff.svc.Add(context.Background(), validDraft(ff.patientID))
	assert.Same(t, ff.storage.saveErr, err)
	assert.Equal(t, []string{"file://picked/photo.png.compressed"}, ff.compressor.released)
	assert.Zero(t, ff.count(t))
}

func TestAdd_ValidationHasNoSideEffects(t *testing.T) {
	ff := newFlowFixture(t)

	res, err := ff.svc.Add(context.Background(), Draft{Tags: []string{}})
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, map[string]string{
		"doctorName": "Doctor name is required.",
		"condition":  "Condition is required.",
		"patientId":  "Patient is required.",
		"tags":       "At least one tag is required.",
		"visitDate":  "Visit date is required.",
		"photoUri":   "Photo is required.",
	}, res.Errors)

	assert.Empty(t, ff.compressor.calls)
	assert.Empty(t, ff.storage.saved)
	assert.Zero(t, ff.count(t))
}

func TestAdd_CleansUpStoredFileOnInsertFailure(t *testing.T) {
	ff := newFlowFixture(t)
	boom := errors.New("database is locked")
	ff.repo.createErr = boom

	_, err := ff.svc.Add(context.Background(), validDraft(ff.patientID))
	require.ErrorIs(t, err, boom)

	require.Len(t, ff.storage.saved, 1)
	assert.Equal(t, []string{ff.storage.saved[0].uri}, ff.storage.deleted)
	assert.Zero(t, ff.count(t))
}

func TestAdd_CleansUpWhenPatientIsMissing(t *testing.T) {
	ff := newFlowFixture(t)

	_, err := ff.svc.Add(context.Background(), validDraft("ghost"))
	require.Error(t, err)

	require.Len(t, ff.storage.saved, 1)
	assert.Equal(t, []string{ff.storage.saved[0].uri}, ff.storage.deleted)
	assert.Zero(t, ff.count(t))
}

func TestAdd_CleanupSurvivesCancellation(t *testing.T) {
	ff := newFlowFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	ff.repo.createErr = errors.New("insert aborted")

	// Cancel once the file is stored, before the cleanup runs.
	store := &cancellingStorage{fakeStorage: ff.storage, cancel: cancel}
	ff.svc.b.Storage = store

	_, err := ff.svc.Add(ctx, validDraft(ff.patientID))
	require.Error(t, err)
	require.Len(t, ff.storage.saved, 1)
	assert.Equal(t, []string{ff.storage.saved[0].uri}, ff.storage.deleted)
}

type cancellingStorage struct {
	*fakeStorage
	cancel context.CancelFunc
}

func (s *cancellingStorage) SaveImage(ctx context.Context, sourceURI, name string) (string, error) {
	uri, err := s.fakeStorage.SaveImage(ctx, sourceURI, name)
	s.cancel()
	return uri, err
}

func TestAdd_CompressionFailureStoresNothing(t *testing.T) {
	ff := newFlowFixture(t)
	ff.compressor.err = errors.New("unsupported image")

	_, err := ff.svc.Add(context.Background(), validDraft(ff.patientID))
	assert.Same(t, ff.compressor.err, err)
	assert.Empty(t, ff.compressor.released)
	assert.Empty(t, ff.storage.saved)
	assert.Empty(t, ff.storage.deleted)
}

func addOne(t *testing.T, ff *flowFixture) *Prescription {
	t.Helper()
	res, err := ff.svc.Add(context.Background(), validDraft(ff.patientID))
	require.NoError(t, err)
	require.True(t, res.OK())
	ff.compressor.calls = nil
	ff.compressor.released = nil
	ff.storage.saved = nil
	ff.storage.deleted = nil
	return res.Prescription
}

func TestEdit_UnchangedPhotoSkipsStorage(t *testing.T) {
	ff := newFlowFixture(t)
	existing := addOne(t, ff)
	ff.svc.b.Clock = boundary.FixedClock("2025-02-02T08:00:00.000Z")

	d := validDraft(ff.patientID)
	d.PhotoURI = existing.PhotoURI
	d.Condition = "Migraine"
	d.Tags = []string{"head"}

	res, err := ff.svc.Edit(context.Background(), EditDraft{PrescriptionID: existing.ID, Draft: d})
	require.NoError(t, err)
	require.True(t, res.OK())

	assert.Empty(t, ff.compressor.calls)
	assert.Empty(t, ff.storage.saved)
	assert.Empty(t, ff.storage.deleted)

	assert.Equal(t, existing.PhotoURI, res.Prescription.PhotoURI)
	assert.Equal(t, "Migraine", res.Prescription.Condition)
	assert.Equal(t, []string{"head"}, res.Prescription.Tags)
	assert.Equal(t, "2025-02-02T08:00:00.000Z", res.Prescription.UpdatedAt)
}

func TestEdit_NormalizesTags(t *testing.T) {
	ff := newFlowFixture(t)
	existing := addOne(t, ff)

	d := validDraft(ff.patientID)
	d.PhotoURI = existing.PhotoURI
	d.Tags = []string{"Head", " head ", "", "night"}
	res, err := ff.svc.Edit(context.Background(), EditDraft{PrescriptionID: existing.ID, Draft: d})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Errors)
	assert.Equal(t, []string{"Head", "night"}, res.Prescription.Tags)
}

func TestEdit_ReplacedPhotoDeletesOldFile(t *testing.T) {
	ff := newFlowFixture(t)
	existing := addOne(t, ff)

	d := validDraft(ff.patientID)
	d.PhotoURI = "file://picked/new.png"
	d.DoctorSpecialty = ""

	res, err := ff.svc.Edit(context.Background(), EditDraft{PrescriptionID: existing.ID, Draft: d})
	require.NoError(t, err)
	require.True(t, res.OK())

	assert.Equal(t, []string{"file://picked/new.png"}, ff.compressor.calls)
	assert.Equal(t, []string{"file://picked/new.png.compressed"}, ff.compressor.released)
	require.Len(t, ff.storage.saved, 1)
	assert.Equal(t, ff.storage.saved[0].uri, res.Prescription.PhotoURI)
	assert.Equal(t, []string{existing.PhotoURI}, ff.storage.deleted)
}

func TestEdit_OldFileDeletionFailureIsSwallowed(t *testing.T) {
	ff := newFlowFixture(t)
	existing := addOne(t, ff)
	ff.storage.deleteErr = errors.New("permission denied")

	d := validDraft(ff.patientID)
	d.PhotoURI = "file://picked/new.png"

	res, err := ff.svc.Edit(context.Background(), EditDraft{PrescriptionID: existing.ID, Draft: d})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestEdit_UpdateFailureRemovesNewFile(t *testing.T) {
	ff := newFlowFixture(t)
	existing := addOne(t, ff)
	boom := errors.New("disk full")
	ff.repo.updateErr = boom

	d := validDraft(ff.patientID)
	d.PhotoURI = "file://picked/new.png"

	_, err := ff.svc.Edit(context.Background(), EditDraft{PrescriptionID: existing.ID, Draft: d})
	require.ErrorIs(t, err, boom)

	require.Len(t, ff.storage.saved, 1)
	assert.Equal(t, []string{ff.storage.saved[0].uri}, ff.storage.deleted)

	still, err := ff.repo.GetByID(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.PhotoURI, still.PhotoURI)
}

func TestEdit_UpdateFailureWithSamePhotoDeletesNothing(t *testing.T) {
	ff := newFlowFixture(t)
	existing := addOne(t, ff)
	ff.repo.updateErr = errors.New("disk full")

	d := validDraft(ff.patientID)
	d.PhotoURI = existing.PhotoURI

	_, err := ff.svc.Edit(context.Background(), EditDraft{PrescriptionID: existing.ID, Draft: d})
	require.Error(t, err)
	assert.Empty(t, ff.storage.deleted)
}

func TestEdit_MissingPrescription(t *testing.T) {
	ff := newFlowFixture(t)

	res, err := ff.svc.Edit(context.Background(), EditDraft{PrescriptionID: "ghost", Draft: validDraft(ff.patientID)})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"prescriptionId": "Prescription not found."}, res.Errors)
	assert.Empty(t, ff.compressor.calls)
}

func TestEdit_InvalidDraft(t *testing.T) {
	ff := newFlowFixture(t)
	existing := addOne(t, ff)

	d := validDraft(ff.patientID)
	d.Tags = nil
	res, err := ff.svc.Edit(context.Background(), EditDraft{PrescriptionID: existing.ID, Draft: d})
	require.NoError(t, err)
	assert.Equal(t, "At least one tag is required.", res.Errors["tags"])
}

func TestDelete_RemovesRowAndFile(t *testing.T) {
	ff := newFlowFixture(t)
	existing := addOne(t, ff)

	deleted, err := ff.svc.Delete(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{existing.PhotoURI}, ff.storage.deleted)
	assert.Zero(t, ff.count(t))

	deleted, err = ff.svc.Delete(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDelete_FileFailureKeepsRowDeleted(t *testing.T) {
	ff := newFlowFixture(t)
	existing := addOne(t, ff)
	ff.storage.deleteErr = errors.New("permission denied")

	deleted, err := ff.svc.Delete(context.Background(), existing.ID)
	assert.Same(t, ff.storage.deleteErr, err)
	assert.True(t, deleted)
	assert.Zero(t, ff.count(t))
}

func TestEnsureDefaultPatient(t *testing.T) {
	store, migrator := testutil.OpenStore(t)
	patients := patient.NewRepo(store)
	svc := NewService(NewRepo(store), patients, migrator, Boundaries{Clock: boundary.FixedClock(testutil.FixedNow)}, zerolog.Nop())
	svc.SetDefaultPatientName("Jordan")
	ctx := context.Background()

	id, err := svc.EnsureDefaultPatient(ctx)
	require.NoError(t, err)

	again, err := svc.EnsureDefaultPatient(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	items, err := patients.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Jordan", items[0].Name)
	require.NotNil(t, items[0].Relationship)
	assert.Equal(t, "Self", *items[0].Relationship)
}

func TestPickPhoto(t *testing.T) {
	ff := newFlowFixture(t)
	ctx := context.Background()

	uri, err := ff.svc.PickPhoto(ctx, boundary.SourceLibrary)
	require.NoError(t, err)
	assert.Empty(t, uri)

	ff.picker.picked = &boundary.PickedImage{URI: "file://picked/a.png"}
	uri, err = ff.svc.PickPhoto(ctx, boundary.SourceCamera)
	require.NoError(t, err)
	assert.Equal(t, "file://picked/a.png", uri)
	assert.Equal(t, []boundary.ImageSource{boundary.SourceLibrary, boundary.SourceCamera}, ff.picker.sources)

	ff.picker.err = boundary.ErrCameraUnavailable
	_, err = ff.svc.PickPhoto(ctx, boundary.SourceCamera)
	assert.ErrorIs(t, err, boundary.ErrCameraUnavailable)
}
