package replayer

import (
	"fmt"

	"stepflow/internal/models"
)

// ElementNotFoundError is returned when no alternative of a locator resolved
// to a visible element before the timeout.
type ElementNotFoundError struct {
	Locator string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element not found: %s", e.Locator)
}

// UnknownStepTypeError is returned for step types the page engine does not
// execute.
type UnknownStepTypeError struct {
	Type models.StepType
}

func (e *UnknownStepTypeError) Error() string {
	return fmt.Sprintf("unknown step type: %q", e.Type)
}
