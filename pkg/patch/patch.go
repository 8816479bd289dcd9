// Package patch models a field of a partial update that can be absent,
// explicitly null, or set to a value.
package patch

import (
	"bytes"
	"encoding/json"
)

// Field is a tri-state update value. The zero value is absent.
type Field[T any] struct {
	Set   bool
	Value *T
}

// Some returns a field set to v.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: &v}
}

// Null returns a field explicitly set to null.
func Null[T any]() Field[T] {
	return Field[T]{Set: true}
}

// Ptr returns a field set to p, which may be nil.
func Ptr[T any](p *T) Field[T] {
	return Field[T]{Set: true, Value: p}
}

// Apply returns the field's value when set, otherwise current.
func (f Field[T]) Apply(current *T) *T {
	if !f.Set {
		return current
	}
	return f.Value
}

// UnmarshalJSON marks the field as set. A JSON null leaves Value nil.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

// MarshalJSON encodes the value, or null when absent or null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.Value)
}
