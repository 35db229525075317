package script

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is wrapped by every *ArgumentError.
var ErrInvalidArgument = errors.New("invalid argument")

// Position identifies a location in script source. Line and Column are
// 1-based; Column counts characters, Offset counts bytes.
type Position struct {
	Offset int
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// LexError reports malformed input found while tokenizing.
type LexError struct {
	Pos    Position
	Reason string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Reason)
}

// ParseError reports a grammar violation. Expected and Found are human
// readable token descriptions.
type ParseError struct {
	Pos      Position
	Expected string
	Found    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: expected %s, found %s", e.Pos, e.Expected, e.Found)
}

// ArgumentError reports a malformed node construction request.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s: %s", e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

func invalidArgument(field, format string, args ...any) error {
	return &ArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
