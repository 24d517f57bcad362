package store

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

// ErrorKind classifies storage failures.
type ErrorKind int

const (
	// KindUnavailable covers I/O failures, locked or missing database files.
	KindUnavailable ErrorKind = iota
	// KindConstraint is a violated schema constraint.
	KindConstraint
	// KindCorrupt is an unreadable row or a damaged database file.
	KindCorrupt
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindConstraint:
		return "constraint-violation"
	case KindCorrupt:
		return "corrupt-read"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every Store operation that fails at the database.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrap classifies err from the driver. A row that cannot be scanned into its
// struct is a corrupt read.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "sql: Scan error") {
		return &Error{Op: op, Kind: KindCorrupt, Err: err}
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return &Error{Op: op, Kind: KindConstraint, Err: err}
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_MISMATCH:
			return &Error{Op: op, Kind: KindCorrupt, Err: err}
		}
	}
	return &Error{Op: op, Kind: KindUnavailable, Err: err}
}

// IsKind reports whether err is a storage error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == k
}
