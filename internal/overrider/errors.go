package overrider

import "errors"

var (
	// ErrNoSelection is returned by mutations issued while nothing is selected.
	ErrNoSelection = errors.New("no node selected")

	// ErrNodeNotFound is returned when no element carries the requested id.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEmptyName is returned for attribute or class operations without a name.
	ErrEmptyName = errors.New("name must not be empty")

	// ErrUnknownCommand is returned by Dispatch for command types it does not handle.
	ErrUnknownCommand = errors.New("unknown command")
)

// CommandError ties a failure to the action that produced it.
type CommandError struct {
	Action string
	Err    error
}

func (e *CommandError) Error() string {
	return e.Action + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
