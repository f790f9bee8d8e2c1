package formula

import "fmt"

// Error is the base interface for all formula errors.
type Error interface {
	error
	Position() Position
}

// baseError provides common error functionality.
type baseError struct {
	pos Position
	msg string
}

func (e *baseError) Position() Position { return e.pos }
func (e *baseError) Error() string {
	if e.pos.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", e.pos.Line, e.pos.Column, e.msg)
	}
	return e.msg
}

// Message returns the error text without position information.
func (e *baseError) Message() string { return e.msg }

// ParseError reports malformed or disallowed syntax.
type ParseError struct {
	baseError
}

// NewParseError creates a new parse error.
func NewParseError(pos Position, msg string) *ParseError {
	return &ParseError{baseError: baseError{pos: pos, msg: msg}}
}

// NewParseErrorf creates a new parse error with formatting.
func NewParseErrorf(pos Position, format string, args ...any) *ParseError {
	return &ParseError{baseError: baseError{pos: pos, msg: fmt.Sprintf(format, args...)}}
}

// EmptyFormulaError reports a formula without a trailing expression.
type EmptyFormulaError struct {
	baseError
}

// NewEmptyFormulaError creates a new empty formula error.
func NewEmptyFormulaError(pos Position, msg string) *EmptyFormulaError {
	return &EmptyFormulaError{baseError: baseError{pos: pos, msg: msg}}
}

// RuntimeError reports a failure while evaluating a taken branch.
type RuntimeError struct {
	baseError
	Formula string
}

// NewRuntimeErrorf creates a new runtime error with formatting.
func NewRuntimeErrorf(formula string, pos Position, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		baseError: baseError{pos: pos, msg: fmt.Sprintf(format, args...)},
		Formula:   formula,
	}
}
