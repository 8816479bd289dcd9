package patient

import (
	"context"
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

const patientCols = `id, name, relationship, gender, is_primary, created_at, updated_at`

const demoteOthersSQL = `UPDATE patients SET is_primary = 0 WHERE is_primary <> 0 AND id <> ?`

func scanPatient(row db.Row) (*Patient, error) {
	var (
		p       Patient
		primary int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Relationship, &p.Gender, &primary, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.IsPrimary = primary != 0
	return &p, nil
}

func getByID(ctx context.Context, q db.Queryer, id string) (*Patient, error) {
	p, err := scanPatient(q.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = ?`, id))
	if errors.Is(err, db.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return p, nil
}

// optional trims s and maps blank to nil.
func optional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *repoSQL) Create(ctx context.Context, in NewPatientInput, now string) (*Patient, error) {
	id := uuid.NewString()

	err := r.store.InTx(ctx, func(ctx context.Context, q db.Queryer) error {
		if in.IsPrimary {
			if err := q.Exec(ctx, demoteOthersSQL, id); err != nil {
				return fmt.Errorf("demote primary patient: %w", err)
			}
		}
		return q.Exec(ctx, `
			INSERT INTO patients (id, name, relationship, gender, is_primary, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, strings.TrimSpace(in.Name), optional(in.Relationship), optional(in.Gender),
			boolInt(in.IsPrimary), now, now)
	})
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}

	p, err := getByID(ctx, r.store, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("patient insert: %w", db.ErrVerificationFailed)
	}
	return p, nil
}

func (r *repoSQL) GetByID(ctx context.Context, id string) (*Patient, error) {
	return getByID(ctx, r.store, id)
}

func (r *repoSQL) List(ctx context.Context) ([]*ListItem, error) {
	rows, err := r.store.Query(ctx, `
		SELECT p.id, p.name, p.relationship, p.gender, p.is_primary, p.created_at, p.updated_at,
			COUNT(rx.id) AS prescriptions_count
		FROM patients p
		LEFT JOIN prescriptions rx ON rx.patient_id = p.id
		GROUP BY p.id, p.name, p.relationship, p.gender, p.is_primary, p.created_at, p.updated_at
		ORDER BY p.is_primary DESC, p.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var items []*ListItem
	for rows.Next() {
		var (
			item    ListItem
			primary int64
			count   int64
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Relationship, &item.Gender, &primary,
			&item.CreatedAt, &item.UpdatedAt, &count); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		item.IsPrimary = primary != 0
		item.PrescriptionsCount = int(count)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", err)
	}
	return items, nil
}

func (r *repoSQL) Update(ctx context.Context, id string, in UpdatePatientInput, now string) (*Patient, error) {
	existing, err := getByID(ctx, r.store, id)
	if err != nil || existing == nil {
		return nil, err
	}

	name := existing.Name
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	relationship := existing.Relationship
	if in.Relationship.Set {
		relationship = optional(in.Relationship.Value)
	}
	gender := existing.Gender
	if in.Gender.Set {
		gender = optional(in.Gender.Value)
	}
	isPrimary := existing.IsPrimary
	if in.IsPrimary != nil {
		isPrimary = *in.IsPrimary
	}

	err = r.store.InTx(ctx, func(ctx context.Context, q db.Queryer) error {
		if isPrimary {
			if err := q.Exec(ctx, demoteOthersSQL, id); err != nil {
				return fmt.Errorf("demote primary patient: %w", err)
			}
		}
		return q.Exec(ctx, `
			UPDATE patients SET name = ?, relationship = ?, gender = ?, is_primary = ?, updated_at = ?
			WHERE id = ?`,
			name, relationship, gender, boolInt(isPrimary), now, id)
	})
	if err != nil {
		return nil, fmt.Errorf("update patient %s: %w", id, err)
	}

	p, err := getByID(ctx, r.store, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("patient update: %w", db.ErrVerificationFailed)
	}
	return p, nil
}

func (r *repoSQL) Delete(ctx context.Context, id string) error {
	if err := r.store.Exec(ctx, `DELETE FROM patients WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete patient %s: %w", id, err)
	}
	return nil
}

func (r *repoSQL) DeleteWithStrategy(ctx context.Context, id string, strategy DeleteStrategy) error {
	existing, err := getByID(ctx, r.store, id)
	if err != nil || existing == nil {
		return err
	}

	if !strategy.Reassign {
		return r.Delete(ctx, id)
	}

	target := strings.TrimSpace(strategy.TargetPatientID)
	if target == "" || target == id {
		return ErrInvalidReassignTarget
	}
	found, err := getByID(ctx, r.store, target)
	if err != nil {
		return err
	}
	if found == nil {
		return fmt.Errorf("reassign target %s: %w", target, ErrNotFound)
	}

	return r.store.InTx(ctx, func(ctx context.Context, q db.Queryer) error {
		if err := q.Exec(ctx, `UPDATE prescriptions SET patient_id = ? WHERE patient_id = ?`, target, id); err != nil {
			return fmt.Errorf("reassign prescriptions: %w", err)
		}
		if err := q.Exec(ctx, `DELETE FROM patients WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete patient %s: %w", id, err)
		}
		return nil
	})
}
