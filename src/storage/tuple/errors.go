package tuple

import "errors"

var (
	ErrUnknownType     = errors.New("unknown field type")
	ErrSchemaMismatch  = errors.New("tuple schema does not match")
	ErrFieldOutOfRange = errors.New("field index out of range")
	ErrFieldNotSet     = errors.New("field is not set")
	ErrNoSuchField     = errors.New("no such field")
)
