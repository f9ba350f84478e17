package store

import (
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"
)

// IsRetryable reports whether err is a transient store failure: a lost
// connection, a serialization failure, a deadlock or a lock timeout.
// A failed transaction is rolled back, so the caller may safely retry it.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, ErrUnavailable) {
		return true
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	switch pqErr.Code {
	case "40001", "40P01", "55P03", "57014":
		return true
	}
	return pqErr.Code.Class() == "08"
}

// ErrConflict is returned by the in-memory store for the violations Postgres
// reports as exclusion or unique constraint errors
var ErrConflict = errors.New("constraint violation")

// IsConflict reports whether err is an exclusion or unique constraint violation
func IsConflict(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23P01" || pqErr.Code == "23505"
}

// ErrUnavailable is returned by the in-memory store when a fault is injected
var ErrUnavailable = errors.New("store unavailable")

// IsSerializationFailure reports whether the transaction lost a deadlock or
// serialization race and can be re-run from the start
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
