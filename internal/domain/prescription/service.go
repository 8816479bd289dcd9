package prescription

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pillfolio/pillfolio/internal/boundary"
	"github.com/pillfolio/pillfolio/internal/domain/patient"
	"github.com/pillfolio/pillfolio/internal/platform/db"
	"github.com/pillfolio/pillfolio/internal/validation"
	"github.com/pillfolio/pillfolio/pkg/patch"
)

// DefaultPatientName names the patient created on first use.
const DefaultPatientName = "Me"

// Boundaries are the capabilities the lifecycle service drives.
type Boundaries struct {
	Picker     boundary.ImagePicker
	Compressor boundary.ImageCompressor
	Storage    boundary.FileStorage
	Clock      boundary.Clock
}

// Draft is prescription form input. Blank optional strings are stored as
// null.
type Draft struct {
	PatientID       string   `json:"patientId"`
	PhotoURI        string   `json:"photoUri"`
	DoctorName      string   `json:"doctorName"`
	DoctorSpecialty string   `json:"doctorSpecialty"`
	Condition       string   `json:"condition"`
	Tags            []string `json:"tags"`
	VisitDate       string   `json:"visitDate"`
	Notes           string   `json:"notes"`
}

type EditDraft struct {
	PrescriptionID string `json:"prescriptionId"`
	Draft
}

// Result is either a stored prescription or field errors.
type Result struct {
	Prescription *Prescription    `json:"prescription,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
}

// OK reports whether the operation stored a prescription.
func (r *Result) OK() bool { return len(r.Errors) == 0 && r.Prescription != nil }

func failed(errors map[string]string) *Result { return &Result{Errors: errors} }

func notFound() *Result {
	return failed(map[string]string{"prescriptionId": "Prescription not found."})
}

// Service runs the prescription lifecycle: pick, compress, store and
// persist, with compensating file cleanup when a write fails.
type Service struct {
	prescriptions Repository
	patients      patient.Repository
	schema        db.SchemaEnsurer
	b             Boundaries
	logger        zerolog.Logger

	defaultPatientName string
}

func NewService(prescriptions Repository, patients patient.Repository, schema db.SchemaEnsurer, b Boundaries, logger zerolog.Logger) *Service {
	return &Service{
		prescriptions:      prescriptions,
		patients:           patients,
		schema:             schema,
		b:                  b,
		logger:             logger.With().Str("component", "prescription_flow").Logger(),
		defaultPatientName: DefaultPatientName,
	}
}

// SetDefaultPatientName overrides the name used by EnsureDefaultPatient.
func (s *Service) SetDefaultPatientName(name string) {
	if strings.TrimSpace(name) != "" {
		s.defaultPatientName = strings.TrimSpace(name)
	}
}

// ParseTagInput splits comma separated tags and cleans them with
// NormalizeTags.
func ParseTagInput(raw string) []string {
	return NormalizeTags(strings.Split(raw, ","))
}

// NormalizeTags trims tags, drops blanks and removes case-insensitive
// duplicates keeping the first spelling. It never returns nil.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := []string{}
	for _, t := range tags {
		tag := strings.TrimSpace(t)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

func optional(s string) *string {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return &v
}

func validateDraft(d Draft) map[string]string {
	res := validation.Prescription(validation.PrescriptionInput{
		PatientID:  d.PatientID,
		DoctorName: d.DoctorName,
		Condition:  d.Condition,
		Tags:       d.Tags,
		VisitDate:  d.VisitDate,
	})
	if strings.TrimSpace(d.PhotoURI) == "" {
		res.Add("photoUri", "Photo is required.")
	}
	if res.Valid {
		return nil
	}
	return res.Errors
}

func storedFileName() string {
	return "prescription-" + uuid.NewString() + ".jpg"
}

// releaser is implemented by compressors that keep the re-encoded file
// around until the caller has copied it.
type releaser interface {
	Release(ctx context.Context, uri string) error
}

// storePhoto compresses a picked image and saves it under a fresh name.
// Boundary errors are returned unchanged.
func (s *Service) storePhoto(ctx context.Context, sourceURI string) (string, error) {
	s.logger.Debug().Str("source", sourceURI).Msg("compress image")
	compressed, err := s.b.Compressor.CompressImage(ctx, sourceURI)
	if err != nil {
		return "", err
	}
	defer s.release(ctx, compressed)

	s.logger.Debug().Msg("save image")
	stored, err := s.b.Storage.SaveImage(ctx, compressed, storedFileName())
	if err != nil {
		return "", err
	}
	s.logger.Debug().Str("stored_uri", stored).Msg("image saved")
	return stored, nil
}

// release drops the compressor's intermediate file once storage has its
// own copy. Failures are only logged.
func (s *Service) release(ctx context.Context, uri string) {
	r, ok := s.b.Compressor.(releaser)
	if !ok {
		return
	}
	if err := r.Release(context.WithoutCancel(ctx), uri); err != nil {
		s.logger.Warn().Err(err).Str("uri", uri).Msg("compressed image cleanup failed")
	}
}

// discard deletes a stored file whose row write did not happen. It runs
// even when ctx has been cancelled and only logs failures.
func (s *Service) discard(ctx context.Context, uri string) {
	if err := s.b.Storage.DeleteFile(context.WithoutCancel(ctx), uri); err != nil {
		s.logger.Warn().Err(err).Str("uri", uri).Msg("stored image cleanup failed")
	}
}

// Add cleans and validates d, stores its photo and inserts the
// prescription. Invalid drafts come back as Result.Errors without touching
// storage or the store.
func (s *Service) Add(ctx context.Context, d Draft) (*Result, error) {
	d.Tags = NormalizeTags(d.Tags)
	s.logger.Debug().
		Str("patient_id", d.PatientID).
		Bool("has_photo", strings.TrimSpace(d.PhotoURI) != "").
		Int("tags", len(d.Tags)).
		Str("visit_date", d.VisitDate).
		Msg("add prescription: start")

	if errs := validateDraft(d); errs != nil {
		s.logger.Debug().Interface("errors", errs).Msg("add prescription: validation failed")
		return failed(errs), nil
	}

	if err := s.schema.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	stored, err := s.storePhoto(ctx, strings.TrimSpace(d.PhotoURI))
	if err != nil {
		return nil, err
	}

	created, err := s.prescriptions.Create(ctx, NewPrescriptionInput{
		PatientID:       strings.TrimSpace(d.PatientID),
		PhotoURI:        stored,
		DoctorName:      strings.TrimSpace(d.DoctorName),
		DoctorSpecialty: optional(d.DoctorSpecialty),
		Condition:       strings.TrimSpace(d.Condition),
		Tags:            d.Tags,
		VisitDate:       d.VisitDate,
		Notes:           optional(d.Notes),
	}, s.b.Clock.NowISO())
	if err != nil {
		s.logger.Debug().Err(err).Msg("add prescription: store failure")
		s.discard(ctx, stored)
		return nil, err
	}

	s.logger.Debug().Str("id", created.ID).Msg("add prescription: success")
	return &Result{Prescription: created}, nil
}

// Edit updates a prescription. The photo is re-compressed and re-stored
// only when d.PhotoURI differs from the stored URI; the replaced file is
// then removed on a best-effort basis.
func (s *Service) Edit(ctx context.Context, d EditDraft) (*Result, error) {
	d.Tags = NormalizeTags(d.Tags)
	if errs := validateDraft(d.Draft); errs != nil {
		return failed(errs), nil
	}

	if err := s.schema.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	existing, err := s.prescriptions.GetByID(ctx, strings.TrimSpace(d.PrescriptionID))
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return notFound(), nil
	}

	photo := strings.TrimSpace(d.PhotoURI)
	photoChanged := photo != existing.PhotoURI
	stored := existing.PhotoURI
	if photoChanged {
		if stored, err = s.storePhoto(ctx, photo); err != nil {
			return nil, err
		}
	}

	updated, err := s.prescriptions.Update(ctx, existing.ID, UpdatePrescriptionInput{
		PhotoURI:        &stored,
		DoctorName:      ptr(strings.TrimSpace(d.DoctorName)),
		DoctorSpecialty: patch.Ptr(optional(d.DoctorSpecialty)),
		Condition:       ptr(strings.TrimSpace(d.Condition)),
		Tags:            d.Tags,
		VisitDate:       &d.VisitDate,
		Notes:           patch.Ptr(optional(d.Notes)),
	}, s.b.Clock.NowISO())
	if err != nil {
		if photoChanged {
			s.discard(ctx, stored)
		}
		return nil, err
	}
	if updated == nil {
		if photoChanged {
			s.discard(ctx, stored)
		}
		return notFound(), nil
	}

	if photoChanged {
		s.discard(ctx, existing.PhotoURI)
	}
	s.logger.Debug().Str("id", updated.ID).Bool("photo_changed", photoChanged).Msg("edit prescription: success")
	return &Result{Prescription: updated}, nil
}

func ptr(s string) *string { return &s }

// Delete removes the prescription row and then its stored photo. It
// returns false when the prescription does not exist. A failed file
// deletion is returned as an error but the row stays deleted.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return false, err
	}

	existing, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	if err := s.prescriptions.Delete(ctx, id); err != nil {
		return false, err
	}
	if err := s.b.Storage.DeleteFile(ctx, existing.PhotoURI); err != nil {
		return true, err
	}

	s.logger.Debug().Str("id", id).Msg("delete prescription: success")
	return true, nil
}

// EnsureDefaultPatient returns the first listed patient, creating a "Self"
// patient when there is none.
func (s *Service) EnsureDefaultPatient(ctx context.Context) (string, error) {
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return "", err
	}

	existing, err := s.patients.List(ctx)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}

	relationship := patient.DefaultRelationship
	p, err := s.patients.Create(ctx, patient.NewPatientInput{
		Name:         s.defaultPatientName,
		Relationship: &relationship,
	}, s.b.Clock.NowISO())
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("patient_id", p.ID).Msg("default patient created")
	return p.ID, nil
}

// PickPhoto asks the picker for an image and returns its URI, or "" when
// the user cancelled.
func (s *Service) PickPhoto(ctx context.Context, source boundary.ImageSource) (string, error) {
	picked, err := s.b.Picker.PickImage(ctx, source)
	if err != nil {
		return "", err
	}
	if picked == nil {
		return "", nil
	}
	return picked.URI, nil
}

// Get returns nil when the prescription does not exist.
func (s *Service) Get(ctx context.Context, id string) (*Prescription, error) {
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s.prescriptions.GetByID(ctx, id)
}

// List returns one patient's prescriptions, or every prescription when
// patientID is empty.
func (s *Service) List(ctx context.Context, patientID string) ([]*Prescription, error) {
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	if patientID == "" {
		return s.prescriptions.ListAll(ctx)
	}
	return s.prescriptions.ListByPatient(ctx, patientID)
}

func (s *Service) Search(ctx context.Context, params SearchParams) ([]*Prescription, error) {
	if err := s.schema.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s.prescriptions.Search(ctx, params)
}
