// Package transient classifies storage errors as retryable (transient) or
// not (permanent), for the retry layers wrapping the storage collaborators.
package transient

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind is the native classification carried by a ClassifiedError.
type Kind int

const (
	KindConnection Kind = iota
	KindTimeout
)

// ClassifiedError lets a collaborator mark one of its own errors as
// transient without going through SQLSTATE or message-regex matching.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (c *ClassifiedError) Error() string { return c.Err.Error() }
func (c *ClassifiedError) Unwrap() error { return c.Err }

// transientSQLStateClasses are the SQLSTATE class prefixes (first two
// characters) that are always transient: connection exception (08),
// transaction rollback incl. deadlock/serialization failure (40),
// insufficient resources (53), operator intervention incl. admin shutdown
// (57).
var transientSQLStateClasses = map[string]struct{}{
	"08": {}, "40": {}, "53": {}, "57": {},
}

// permanentSQLStateClasses are explicit-permanent prefixes: integrity
// constraint violation (23), syntax or access rule violation (42).
var permanentSQLStateClasses = map[string]struct{}{
	"23": {}, "42": {},
}

var transientMessagePattern = regexp.MustCompile(`(?i)connection (refused|reset|closed|timed out)|pool exhausted|deadlock detected|serialization failure|server (shutdown|shutting down|is shutting down|restart|is restarting)|out of (memory|disk)|try again|temporarily unavailable`)

// IsTransient reports whether err (or any error in its chain) should be
// treated as transient and therefore retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if isTransientSingle(e) {
			return true
		}
		if isPermanentSingle(e) {
			return false
		}
	}
	return transientMessagePattern.MatchString(err.Error())
}

func isTransientSingle(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := sqlStateClass(pgErr.Code)
		if _, ok := transientSQLStateClasses[class]; ok {
			return true
		}
		if _, ok := permanentSQLStateClasses[class]; ok {
			return false
		}
	}

	return transientMessagePattern.MatchString(err.Error())
}

func isPermanentSingle(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := sqlStateClass(pgErr.Code)
		_, permanent := permanentSQLStateClasses[class]
		return permanent
	}
	return false
}

func sqlStateClass(sqlstate string) string {
	if len(sqlstate) < 2 {
		return ""
	}
	return strings.ToUpper(sqlstate[:2])
}
