package race

import (
	"fmt"
)

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

// Fetch failure kinds. Transient errors are retried; Exhausted is returned
// once the retry budget is spent; Rejected marks non-retryable HTTP statuses.
const (
	FetchTransient FetchErrorKind = "transient"
	FetchExhausted FetchErrorKind = "exhausted-retries"
	FetchRejected  FetchErrorKind = "rejected"
)

// FetchError reports a failed page fetch.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s (%s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", status %d", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(", %d attempts", e.Attempts)
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether another attempt may succeed.
func (e *FetchError) Transient() bool { return e.Kind == FetchTransient }

// ParseErrorKind classifies parse failures.
type ParseErrorKind string

// StructureMissing means the entrant table could not be located at all.
const StructureMissing ParseErrorKind = "structure-missing"

// ParseError reports a page that cannot be parsed.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("parse: %s: %s", e.Kind, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

// WarningKind classifies field-level normalization problems.
type WarningKind string

// Unparseable text fell back to the 0.0 sentinel; Defaulted marks a value
// filled by a documented rule (e.g. a wave reading without its unit).
const (
	WarningUnparseable WarningKind = "unparseable"
	WarningDefaulted   WarningKind = "defaulted"
)

// FieldWarning is a per-field problem that never aborts the race. Lane is 0
// for race-level fields such as weather.
type FieldWarning struct {
	Kind  WarningKind
	Lane  int
	Field string
	Text  string
	Err   error
}

func (w FieldWarning) Error() string {
	where := w.Field
	if w.Lane > 0 {
		where = fmt.Sprintf("lane %d %s", w.Lane, w.Field)
	}
	if w.Err != nil {
		return fmt.Sprintf("%s %q %s: %v", where, w.Text, w.Kind, w.Err)
	}
	return fmt.Sprintf("%s %q %s", where, w.Text, w.Kind)
}

// StoreErrorKind classifies persistence failures.
type StoreErrorKind string

// TransactionFailed means nothing from the transaction was applied.
const TransactionFailed StoreErrorKind = "transaction-failed"

// StoreError reports a failed store operation.
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Transient reports that a failed transaction may be retried.
func (e *StoreError) Transient() bool { return true }
