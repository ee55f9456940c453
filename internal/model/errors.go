package model

import "fmt"

// ValidationError reports a violated structural invariant on a model value
// (WorkingSpec, JudgeVerdict, ...). It is always the caller's fault and is
// never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// WrapInvalid builds a ValidationError with the given message.
func WrapInvalid(msg string) error {
	return &ValidationError{Msg: msg}
}

// Errorf builds a ValidationError with a formatted message.
func Errorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
