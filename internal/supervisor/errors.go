package supervisor

import "fmt"

// LaunchError reports a failed worker launch.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch worker %s: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
