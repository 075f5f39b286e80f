package access

import "errors"

var (
	// ErrUnauthorized is returned when a non-admin attempts an admin operation.
	ErrUnauthorized = errors.New("requester is not the admin")
	// ErrDuplicateCode is returned when issuing a code that is already registered.
	ErrDuplicateCode = errors.New("code already exists")
	// ErrEmptyCode is returned when redeeming an empty string.
	ErrEmptyCode = errors.New("code is empty")
	// ErrInvalidCode is returned when an explicit code contains whitespace or a backtick.
	ErrInvalidCode = errors.New("code must be a single token without backticks")
	// ErrCodeGeneration is returned when no unused code could be generated.
	ErrCodeGeneration = errors.New("could not generate an unused code")
)
