package tools

import "errors"

var (
	// ErrToolAlreadyRegistered is returned when registering a duplicate name.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrUnknownTool is returned when executing an unregistered tool.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrMissingName marks a tool definition without a name.
	ErrMissingName = errors.New("tool has no name")

	// ErrMissingExecute marks a tool definition without an execute function.
	ErrMissingExecute = errors.New("tool has no execute function")

	// ErrMissingResourceKey marks a sensitive tool without a resource key derivation.
	ErrMissingResourceKey = errors.New("sensitive tool has no resource key function")
)
