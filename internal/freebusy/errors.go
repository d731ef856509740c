package freebusy

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned before any search work when a request or window is malformed.
var ErrInvalidInput = errors.New("freebusy: invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
