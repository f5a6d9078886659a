package shared

import "errors"

// Sentinel errors shared by the master data modules. Services wrap them
// with the entity and field involved; handlers match with errors.Is.
var (
	ErrNotFound      = errors.New("masterdata: not found")
	ErrDuplicate     = errors.New("masterdata: duplicate code")
	ErrValidation    = errors.New("masterdata: validation failed")
	ErrInvalidID     = errors.New("masterdata: invalid id")
	ErrRequiredField = errors.New("masterdata: required field missing")
)
