package pipeline

import (
	"fmt"

	"sparkify/internal/warehouse"
)

// SetupError is fatal before any file is processed: a missing root, or no
// warehouse to write to.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string { return fmt.Sprintf("setup: %s: %v", e.Op, e.Err) }
func (e *SetupError) Unwrap() error { return e.Err }

// ParseError reports an input file that could not be decoded. Line is the
// 1-based line for event logs and 0 for single-document song files.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConstraintError is a warehouse constraint violation.
type ConstraintError = warehouse.ConstraintError

// FileError is the error a run fails with. It carries the phase, the file
// and its 1-based position so the operator knows where the run stopped.
type FileError struct {
	Phase string
	Path  string
	Index int
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: file %d (%s): %v", e.Phase, e.Index, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
