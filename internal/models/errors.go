package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common errors for models and repositories.
var (
	// ErrNotFound indicates the requested video does not exist.
	ErrNotFound = errors.New("video not found")

	// ErrInvalidStatus indicates a status string outside the enumeration.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrDuplicatePath indicates a video row already exists for the path.
	ErrDuplicatePath = errors.New("video already tracked for path")

	// ErrFilepathRequired indicates a required filepath field is empty.
	ErrFilepathRequired = errors.New("filepath is required")

	// ErrFilenameRequired indicates a required filename field is empty.
	ErrFilenameRequired = errors.New("filename is required")

	// ErrEmptyCommand indicates synthesis produced no usable command text.
	ErrEmptyCommand = errors.New("empty command")

	// ErrMissingPlaceholder indicates a synthesized command lacks the
	// input.mp4 or output.mp4 placeholder token.
	ErrMissingPlaceholder = errors.New("command missing placeholder")
)
