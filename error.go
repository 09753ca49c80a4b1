package parquedb

import (
	"errors"
	"fmt"

	"github.com/parquedb/parquedb/internal/domainerr"
)

// Error is the single error type returned across the public API,
// generalizing the teacher's mddb.Error{ID,Path,Err} with the extra
// context ParqueDB's wider surface needs (spec.md §1 "Errors").
type Error struct {
	Kind   error
	Path   string
	Entity string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Kind.Error()

	if e.Entity != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Entity)
	}

	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapErr lifts an internal domainerr/compaction/retention error into a
// *Error carrying entity/path context, passing through anything already
// wrapped so callers never see the internal package's own type.
func wrapErr(err error, entity, path string) error {
	if err == nil {
		return nil
	}

	if pe, ok := err.(*Error); ok {
		return pe
	}

	var de *domainerr.Error
	if errors.As(err, &de) {
		return &Error{Kind: de.Kind, Path: path, Entity: entity, Err: err}
	}

	return &Error{Kind: err, Path: path, Entity: entity}
}

// Re-exported sentinels so callers never need to import internal/domainerr.
var (
	ErrNotFound         = domainerr.ErrNotFound
	ErrAlreadyExists    = domainerr.ErrAlreadyExists
	ErrVersionMismatch  = domainerr.ErrVersionMismatch
	ErrUniqueConstraint = domainerr.ErrUniqueConstraint
	ErrReadOnly         = domainerr.ErrReadOnly
	ErrValidation       = domainerr.ErrValidation
	ErrClosed           = domainerr.ErrClosed
)

func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool    { return errors.Is(err, ErrAlreadyExists) }
func IsVersionMismatch(err error) bool  { return errors.Is(err, ErrVersionMismatch) }
func IsUniqueConstraint(err error) bool { return errors.Is(err, ErrUniqueConstraint) }
func IsReadOnly(err error) bool         { return errors.Is(err, ErrReadOnly) }
func IsValidation(err error) bool       { return errors.Is(err, ErrValidation) }
