package message

import (
	"errors"
	"fmt"
)

// ErrRender indicates the template could not be rendered for a recipient.
var ErrRender = errors.New("render failed")

// RenderError records a render failure for one recipient. It is fatal for
// that recipient only.
type RenderError struct {
	Email string
	Row   int
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%v for %s (row %d): %v", ErrRender, e.Email, e.Row, e.Err)
}

func (e *RenderError) Unwrap() []error {
	return []error{ErrRender, e.Err}
}
