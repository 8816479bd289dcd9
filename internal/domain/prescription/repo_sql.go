package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pillfolio/pillfolio/internal/platform/db"
)

type repoSQL struct{ store db.Driver }

// NewRepo returns a Repository backed by store.
func NewRepo(store db.Driver) Repository {
	return &repoSQL{store: store}
}

const prescriptionCols = `id, patient_id, photo_uri, doctor_name, doctor_specialty, condition,
	tags_json, visit_date, notes, created_at, updated_at`

func scanPrescription(row db.Row) (*Prescription, error) {
	var (
		p        Prescription
		tagsJSON string
	)
	if err := row.Scan(&p.ID, &p.PatientID, &p.PhotoURI, &p.DoctorName, &p.DoctorSpecialty,
		&p.Condition, &tagsJSON, &p.VisitDate, &p.Notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	tags, err := decodeTags(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("prescription %s: %w", p.ID, err)
	}
	p.Tags = tags
	return &p, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

func (r *repoSQL) get(ctx context.Context, id string) (*Prescription, error) {
	p, err := scanPrescription(r.store.QueryRow(ctx, `SELECT `+prescriptionCols+` FROM prescriptions WHERE id = ?`, id))
	if errors.Is(err, db.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription %s: %w", id, err)
	}
	return p, nil
}

func (r *repoSQL) list(ctx context.Context, query string, args ...any) ([]*Prescription, error) {
	rows, err := r.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	items := []*Prescription{}
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prescriptions: %w", err)
	}
	return items, nil
}

func (r *repoSQL) Create(ctx context.Context, in NewPrescriptionInput, now string) (*Prescription, error) {
	id := uuid.NewString()
	tagsJSON, err := encodeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	err = r.store.Exec(ctx, `
		INSERT INTO prescriptions (id, patient_id, photo_uri, doctor_name, doctor_specialty, condition,
			tags_json, visit_date, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.PatientID, in.PhotoURI, strings.TrimSpace(in.DoctorName), in.DoctorSpecialty,
		strings.TrimSpace(in.Condition), tagsJSON, in.VisitDate, in.Notes, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert prescription: %w", err)
	}

	p, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("prescription insert: %w", db.ErrVerificationFailed)
	}
	return p, nil
}

func (r *repoSQL) GetByID(ctx context.Context, id string) (*Prescription, error) {
	return r.get(ctx, id)
}

func (r *repoSQL) ListByPatient(ctx context.Context, patientID string) ([]*Prescription, error) {
	return r.list(ctx, `SELECT `+prescriptionCols+` FROM prescriptions
		WHERE patient_id = ? ORDER BY visit_date DESC, created_at DESC`, patientID)
}

func (r *repoSQL) ListAll(ctx context.Context) ([]*Prescription, error) {
	return r.list(ctx, `SELECT `+prescriptionCols+` FROM prescriptions
		ORDER BY visit_date DESC, created_at DESC`)
}

func (r *repoSQL) Update(ctx context.Context, id string, in UpdatePrescriptionInput, now string) (*Prescription, error) {
	existing, err := r.get(ctx, id)
	if err != nil || existing == nil {
		return nil, err
	}

	next := *existing
	if in.PhotoURI != nil {
		next.PhotoURI = *in.PhotoURI
	}
	if in.DoctorName != nil {
		next.DoctorName = *in.DoctorName
	}
	next.DoctorSpecialty = in.DoctorSpecialty.Apply(existing.DoctorSpecialty)
	if in.Condition != nil {
		next.Condition = *in.Condition
	}
	if in.Tags != nil {
		next.Tags = in.Tags
	}
	if in.VisitDate != nil {
		next.VisitDate = *in.VisitDate
	}
	next.Notes = in.Notes.Apply(existing.Notes)

	tagsJSON, err := encodeTags(next.Tags)
	if err != nil {
		return nil, err
	}

	err = r.store.Exec(ctx, `
		UPDATE prescriptions SET photo_uri = ?, doctor_name = ?, doctor_specialty = ?, condition = ?,
			tags_json = ?, visit_date = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		next.PhotoURI, strings.TrimSpace(next.DoctorName), next.DoctorSpecialty,
		strings.TrimSpace(next.Condition), tagsJSON, next.VisitDate, next.Notes, now, id)
	if err != nil {
		return nil, fmt.Errorf("update prescription %s: %w", id, err)
	}

	p, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("prescription update: %w", db.ErrVerificationFailed)
	}
	return p, nil
}

func (r *repoSQL) Delete(ctx context.Context, id string) error {
	if err := r.store.Exec(ctx, `DELETE FROM prescriptions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete prescription %s: %w", id, err)
	}
	return nil
}

// Search narrows by patient in SQL and matches the query against the
// decoded fields.
func (r *repoSQL) Search(ctx context.Context, params SearchParams) ([]*Prescription, error) {
	var (
		scoped []*Prescription
		err    error
	)
	if params.SearchAllPatients {
		scoped, err = r.ListAll(ctx)
	} else {
		scoped, err = r.ListByPatient(ctx, params.PatientID)
	}
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(params.Query))
	if needle == "" {
		return scoped, nil
	}

	matched := []*Prescription{}
	for _, p := range scoped {
		if Matches(p, needle) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// Matches reports whether a lower-cased needle occurs in the doctor name,
// the condition, or any tag of p.
func Matches(p *Prescription, needle string) bool {
	if strings.Contains(strings.ToLower(p.DoctorName), needle) ||
		strings.Contains(strings.ToLower(p.Condition), needle) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
