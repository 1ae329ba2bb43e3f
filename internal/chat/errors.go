package chat

import (
	"errors"
	"fmt"
)

// Error kinds. Concrete errors wrap exactly one of these and callers match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrStorage    = errors.New("storage unavailable")
	ErrUpstream   = errors.New("completion upstream failed")
)

var (
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)
	ErrJobNotFound     = fmt.Errorf("job %w", ErrNotFound)
	ErrEmptyMessage    = fmt.Errorf("%w: message is required", ErrValidation)
	ErrSessionRequired = fmt.Errorf("%w: sessionId is required", ErrValidation)
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func upstreamErr(err error) error {
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}
