// Package validation holds the side-effect-free field checks shared by the
// services and by input forms.
package validation

import (
	"sort"
	"strings"
	"time"
)

// Result carries field-keyed messages. Valid is true when Errors is empty.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors map[string]string `json:"errors"`
}

func newResult() Result {
	return Result{Valid: true, Errors: map[string]string{}}
}

// Add records a message for field and marks the result invalid.
func (r *Result) Add(field, message string) {
	if r.Errors == nil {
		r.Errors = map[string]string{}
	}
	r.Valid = false
	r.Errors[field] = message
}

// Err returns nil for a valid result and an *Error otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &Error{Fields: r.Errors}
}

// Error carries a failed Result through an error return.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "invalid input: " + strings.Join(keys, ", ")
}

// PatientInput is the subset of patient fields that are validated. A nil
// Gender means the field was not supplied.
type PatientInput struct {
	Name   string
	Gender *string
}

// Patient validates patient form input.
func Patient(in PatientInput) Result {
	res := newResult()

	if strings.TrimSpace(in.Name) == "" {
		res.Add("name", "Name is required.")
	}
	if in.Gender != nil && strings.TrimSpace(*in.Gender) == "" {
		res.Add("gender", "Gender cannot be empty.")
	}

	return res
}

// PatientUpdate validates the fields present in a partial patient update.
func PatientUpdate(name, gender *string) Result {
	res := newResult()

	if name != nil && strings.TrimSpace(*name) == "" {
		res.Add("name", "Name is required.")
	}
	if gender != nil && strings.TrimSpace(*gender) == "" {
		res.Add("gender", "Gender cannot be empty.")
	}

	return res
}

// PrescriptionInput is the subset of prescription fields that are validated.
type PrescriptionInput struct {
	PatientID  string
	DoctorName string
	Condition  string
	Tags       []string
	VisitDate  string
}

// Prescription validates prescription form input.
func Prescription(in PrescriptionInput) Result {
	res := newResult()

	if strings.TrimSpace(in.DoctorName) == "" {
		res.Add("doctorName", "Doctor name is required.")
	}
	if strings.TrimSpace(in.Condition) == "" {
		res.Add("condition", "Condition is required.")
	}
	if strings.TrimSpace(in.PatientID) == "" {
		res.Add("patientId", "Patient is required.")
	}
	if msg := tagsProblem(in.Tags); msg != "" {
		res.Add("tags", msg)
	}
	if !IsCalendarDate(in.VisitDate) {
		res.Add("visitDate", "Visit date is required.")
	}

	return res
}

// tagsProblem requires at least one tag, no blank tags and no tags that
// repeat ignoring case.
func tagsProblem(tags []string) string {
	if len(tags) == 0 {
		return "At least one tag is required."
	}
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" {
			return "Tags cannot be empty."
		}
		if seen[key] {
			return "Tags must be unique."
		}
		seen[key] = true
	}
	return ""
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// IsCalendarDate reports whether s parses as a date or an ISO-8601 timestamp.
func IsCalendarDate(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
