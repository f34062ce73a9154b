// Package validation binds and validates request payloads.
//
// Request structs declare rules via validator struct tags; custom rules
// that tags cannot express return CustomValidationErrors. Both are
// flattened into field-level errors the client can render next to form
// inputs.
package validation
