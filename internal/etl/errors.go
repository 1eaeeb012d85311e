package etl

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds a refresh can fail with. Inspect with errors.Is.
var (
	ErrFetch      = errors.New("fetch failed")
	ErrValidation = errors.New("validation failed")
	ErrTruncation = errors.New("string value exceeds column length")
)

// FetchError is returned when the remote answers with a non-success status
// or an undecodable body.
type FetchError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: http %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }
func (e *FetchError) Unwrap() error        { return e.Err }

// ValidationError reports a malformed remote record.
type ValidationError struct {
	Dataset string
	Index   int // position in the page
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s record %d: field %q: %s", e.Dataset, e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TruncationError is returned by a store when a batch was rejected because a
// string value exceeded its column bound. MaxLengths holds, for diagnostics,
// the longest string observed per field across the rejected batch.
type TruncationError struct {
	Dataset    string
	MaxLengths map[string]int
	Err        error
}

func (e *TruncationError) Error() string {
	names := make([]string, 0, len(e.MaxLengths))
	for name := range e.MaxLengths {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, e.MaxLengths[name])
	}
	return fmt.Sprintf("%s: %v (max lengths: %s): %v",
		e.Dataset, ErrTruncation, strings.Join(parts, ", "), e.Err)
}

func (e *TruncationError) Is(target error) bool { return target == ErrTruncation }
func (e *TruncationError) Unwrap() error        { return e.Err }

// ErrorKind classifies err for metrics and run logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTruncation):
		return "truncation"
	default:
		return "store"
	}
}
