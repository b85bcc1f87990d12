package main

import (
	"errors"
	"fmt"
)

// exitError carries a process exit status. An empty message exits silently.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

func silentExit(code int) error {
	return &exitError{code: code}
}

func exitf(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) && exitErr.code > 0 {
		return exitErr.code
	}
	return 1
}
