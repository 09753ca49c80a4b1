// Package objectstore provides a pluggable byte-blob store for ParqueDB's
// durable state.
//
// Implementations in this package include:
//   - [Local]: production use, wraps the local filesystem via [fs.FS]
//   - [Memory]: in-process use, backs a map with version-counter ETags
//   - [Remote]: range-read/presigned-URL HTTP backend with retry/backoff
//
// All methods mirror the contract in spec.md §4.1: conditional writes are
// the basis of cross-process safety, and every error carries a [Code] so
// callers can branch on semantic class with [IsNotFound], [IsPreconditionFailed],
// and [IsConflict] instead of comparing strings.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// Code classifies an [Error] into a semantic bucket shared by every backend.
type Code uint8

const (
	// CodeUnknown is the zero value; Error should always set a concrete code.
	CodeUnknown Code = iota
	CodeNotFound
	CodeAlreadyExists
	CodeETagMismatch
	CodePermissionDenied
	CodeInvalidPath
	CodeNetwork
	CodeQuota
	CodeDirectoryNotEmpty
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not_found"
	case CodeAlreadyExists:
		return "already_exists"
	case CodeETagMismatch:
		return "etag_mismatch"
	case CodePermissionDenied:
		return "permission_denied"
	case CodeInvalidPath:
		return "invalid_path"
	case CodeNetwork:
		return "network"
	case CodeQuota:
		return "quota"
	case CodeDirectoryNotEmpty:
		return "directory_not_empty"
	default:
		return "unknown"
	}
}

// Error is the uniform error type returned by every ObjectStore backend.
//
// Use [errors.As] to extract the structured fields, or the Is* helpers
// below for branching on semantic class without caring which backend
// produced the error.
type Error struct {
	Code Code
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Code.String()
	if e.Path != "" {
		msg += " " + e.Path
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func newError(code Code, path string, cause error) *Error {
	return &Error{Code: code, Path: path, Err: cause}
}

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsPreconditionFailed reports whether err indicates a failed conditional
// write (ETag mismatch).
func IsPreconditionFailed(err error) bool { return hasCode(err, CodeETagMismatch) }

// IsConflict reports whether err indicates a resource already exists or a
// directory delete hit non-empty contents.
func IsConflict(err error) bool {
	return hasCode(err, CodeAlreadyExists) || hasCode(err, CodeDirectoryNotEmpty)
}

func hasCode(err error, code Code) bool {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Code == code
	}

	return false
}

// Stat describes an object's metadata.
type Stat struct {
	Size  int64
	Mtime int64 // unix millis
	ETag  string
}

// ListEntry is a single entry returned by [ObjectStore.List].
type ListEntry struct {
	Path string
	Stat Stat
}

// ListPage is one page of a [ObjectStore.List] result.
type ListPage struct {
	Entries []ListEntry
	// NextToken is non-empty when more pages are available.
	NextToken string
}

// Range selects a half-open byte interval [Start, End) for [ObjectStore.ReadRange].
//
// A negative Start with End == 0 is a "suffix range": -N means "the last N
// bytes" (see spec.md Open Questions — this is a distinct mode from the
// exclusive-end convention used elsewhere in the interface, never mix the two).
type Range struct {
	Start int64
	End   int64
}

// IsSuffix reports whether r encodes a suffix range (last N bytes).
func (r Range) IsSuffix() bool { return r.Start < 0 }

// ObjectStore is the capability-set interface every backend implements.
//
// Implementations must be safe for concurrent use. Suspension points (any
// call here) may race with concurrent writers; callers must not assume
// state observed before a call is still current afterward — re-check
// version/ETag at the point of use.
type ObjectStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
	ReadRange(ctx context.Context, path string, r Range) ([]byte, error)

	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (Stat, error)
	List(ctx context.Context, prefix string, pageToken string) (ListPage, error)

	Write(ctx context.Context, path string, data []byte) error
	WriteAtomic(ctx context.Context, path string, data []byte) error
	// WriteConditional writes data only if the current object's ETag equals
	// ifMatchEtag (or ifMatchEtag == "" and the object does not yet exist).
	// Returns an [Error] with [CodeETagMismatch] on precondition failure.
	WriteConditional(ctx context.Context, path string, data []byte, ifMatchEtag string) (Stat, error)

	Delete(ctx context.Context, path string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Mkdir(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
}

// ReadWriter groups the streaming equivalents some backends offer in
// addition to the byte-slice oriented [ObjectStore] contract. Not every
// backend needs to implement it (the columnar codec only needs Read/Write).
type ReadWriter interface {
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)
	OpenWrite(ctx context.Context, path string) (io.WriteCloser, error)
}
