// Package apperr defines the error taxonomy shared by the case tracking core.
// Every error that leaves a service is either an *Error carrying one of the
// Kind values below or a plain error that callers treat as KindTransaction.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

// Kind classifies an error for callers that need to react to it.
type Kind int

const (
	KindTransaction Kind = iota
	KindValidation
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "transaction_failure"
	}
}

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Error is a classified error. Op names the operation that failed
// (e.g. "casework.RegisterResult").
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf reports missing or invalid caller-supplied input.
func Validationf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports that a referenced entity does not exist.
func NotFound(op, entity string, id interface{}) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf("%s %v not found", entity, id)}
}

// Conflictf reports a write rejected by a uniqueness or state constraint.
func Conflictf(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transaction wraps a lower-level fault that caused a rollback.
func Transaction(op string, err error) *Error {
	return &Error{Kind: KindTransaction, Op: op, Msg: "transaction rolled back", Err: err}
}

// Wrap classifies err under kind, keeping it reachable through errors.Is.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain. Unclassified
// errors are KindTransaction.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransaction
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// FromStore classifies an error returned by the pgx layer. pgx.ErrNoRows
// becomes NotFound for entity/id and unique violations become Conflict.
// Anything else is returned unchanged.
func FromStore(op, entity string, id interface{}, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(op, entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &Error{Kind: KindConflict, Op: op, Msg: fmt.Sprintf("duplicate %s (%s)", entity, pgErr.ConstraintName), Err: err}
	}
	return err
}

// HTTPStatus maps an error to the status code the HTTP layer responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error payload returned by handlers.
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToBody renders err for a response. Transaction failures do not leak the
// underlying driver error.
func ToBody(err error) Body {
	kind := KindOf(err)
	if kind == KindTransaction {
		return Body{Code: kind.String(), Message: "the operation could not be completed"}
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Msg != "" {
		return Body{Code: kind.String(), Message: ae.Msg}
	}
	return Body{Code: kind.String(), Message: err.Error()}
}

// HTTPError converts err into the *echo.HTTPError handlers return. err stays
// reachable through errors.Is/As for middleware further out.
func HTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(HTTPStatus(err), ToBody(err)).SetInternal(err)
}
