package dmarc

import "fmt"

type SchemaErrorKind string

const (
	MissingRequiredField SchemaErrorKind = "missing required field"
	InvalidPolicyValue   SchemaErrorKind = "invalid policy value"
)

// SchemaError is returned when a report violates the DMARC schema in a
// way the decoder cannot recover from. Callers can match on Kind to
// tell data problems apart from programming errors.
type SchemaError struct {
	Kind  SchemaErrorKind
	Field string
	Value string
}

func (e *SchemaError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	}
	return fmt.Sprintf("%s: %s has value %q", e.Kind, e.Field, e.Value)
}

func missingField(field string) error {
	return &SchemaError{Kind: MissingRequiredField, Field: field}
}

func invalidValue(field, value string) error {
	return &SchemaError{Kind: InvalidPolicyValue, Field: field, Value: value}
}
