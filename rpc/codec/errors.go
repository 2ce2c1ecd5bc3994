package codec

import (
	"fmt"
	"strconv"
	"strings"

	"typedrpc/internal/errs"
)

// Failure kinds. Every error returned by this package wraps exactly one of
// them, so callers can use errors.Is.
var (
	ErrMalformedInput = errs.ErrMalformedInput
	ErrSchemaMismatch = errs.ErrSchemaMismatch
	ErrOverflow       = errs.ErrOverflow
)

// Error locates a failure inside a value. Path uses [i] for list, set and
// tuple elements and [i].key / [i].value for dictionary entries.
type Error struct {
	Kind   error
	Path   string
	Detail string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%v at %s: %s", e.Kind, e.Path, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// path is rendered only when an error is built.
type path struct {
	parent *path
	index  int
	field  string
}

func (p *path) elem(i int) *path {
	return &path{parent: p, index: i}
}

func (p *path) entry(i int, field string) *path {
	return &path{parent: p, index: i, field: field}
}

func (p *path) String() string {
	if p == nil {
		return ""
	}
	var parts []string
	for cur := p; cur != nil; cur = cur.parent {
		seg := "[" + strconv.Itoa(cur.index) + "]"
		if cur.field != "" {
			seg += "." + cur.field
		}
		parts = append(parts, seg)
	}
	var sb strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteString(parts[i])
	}
	return sb.String()
}

func newError(kind error, p *path, format string, args ...any) error {
	return &Error{Kind: kind, Path: p.String(), Detail: fmt.Sprintf(format, args...)}
}

func malformed(p *path, format string, args ...any) error {
	return newError(ErrMalformedInput, p, format, args...)
}

func mismatch(p *path, format string, args ...any) error {
	return newError(ErrSchemaMismatch, p, format, args...)
}

func overflow(p *path, format string, args ...any) error {
	return newError(ErrOverflow, p, format, args...)
}
