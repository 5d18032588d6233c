package client

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted matches (via errors.Is) a ClassifiedError returned
	// after every retry attempt failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrInvariant marks internal invariant violations. They indicate a bug,
	// never a condition the caller can fix by retrying.
	ErrInvariant = errors.New("internal invariant violated")
)

// ErrorKind classifies a failure for retry decisions and for callers.
type ErrorKind string

const (
	// KindAuthRequired covers 401/403/498/499. The caller must supply or refresh a token.
	KindAuthRequired ErrorKind = "auth_required"

	// KindClient covers the remaining 4xx codes: the request itself is malformed.
	KindClient ErrorKind = "client"

	// KindServer covers 5xx codes and 429.
	KindServer ErrorKind = "server"

	// KindTransport covers connection refused, DNS failures, timeouts and broken bodies.
	KindTransport ErrorKind = "transport"

	// KindProtocol covers bodies that cannot be decoded as a JSON object.
	KindProtocol ErrorKind = "protocol"

	// KindServiceTypeUnknown is returned when a URL and its metadata match no service kind.
	KindServiceTypeUnknown ErrorKind = "service_type_unknown"

	// KindPaginationAbort aggregates one or more failed pages of a query.
	KindPaginationAbort ErrorKind = "pagination_abort"

	// KindCanceled is returned when the caller's context ends the operation.
	KindCanceled ErrorKind = "canceled"

	// KindInternal wraps ErrInvariant.
	KindInternal ErrorKind = "internal"
)

// PageFailure records one page of a paginated query that failed after
// exhausting its own retries.
type PageFailure struct {
	Index  int
	Offset int
	Limit  int
	Err    error
}

// ClassifiedError is the single error type surfaced by the client.
type ClassifiedError struct {
	Kind      ErrorKind
	Code      int
	Message   string
	Details   []string
	Retryable bool

	// Attempts is the number of HTTP attempts made before giving up.
	Attempts int

	// Failures is only set for KindPaginationAbort.
	Failures []PageFailure

	Err error

	exhausted bool
}

// NewError creates a ClassifiedError whose retryability follows its kind.
func NewError(kind ErrorKind, code int, message string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: shouldRetry(kind),
		Err:       cause,
	}
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ArcGIS %s error", e.Kind)
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Details, "; "))
	}
	if e.Err != nil && e.Kind != KindPaginationAbort {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As. For a pagination abort
// the cause is the join of every failed page's error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is reports ErrRetryExhausted for errors returned after the last attempt.
func (e *ClassifiedError) Is(target error) bool {
	return target == ErrRetryExhausted && e.exhausted
}

// FailedOffsets returns the sorted offsets of failed pages.
func (e *ClassifiedError) FailedOffsets() []int {
	offsets := make([]int, 0, len(e.Failures))
	for _, f := range e.Failures {
		offsets = append(offsets, f.Offset)
	}
	sort.Ints(offsets)
	return offsets
}

// NewPaginationAbort builds the aggregate error for a failed query.
func NewPaginationAbort(totalPages int, failures []PageFailure) *ClassifiedError {
	sorted := make([]PageFailure, len(failures))
	copy(sorted, failures)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	causes := make([]error, 0, len(sorted))
	offsets := make([]string, 0, len(sorted))
	for _, f := range sorted {
		causes = append(causes, fmt.Errorf("page %d (offset %d): %w", f.Index, f.Offset, f.Err))
		offsets = append(offsets, fmt.Sprintf("%d", f.Offset))
	}

	return &ClassifiedError{
		Kind: KindPaginationAbort,
		Message: fmt.Sprintf("%d of %d pages failed (offsets %s)",
			len(sorted), totalPages, strings.Join(offsets, ", ")),
		Failures: sorted,
		Err:      errors.Join(causes...),
	}
}

// KindOf returns the kind of a ClassifiedError anywhere in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsRetryable reports whether err is a ClassifiedError marked retryable.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Retryable
}

// IsAuthRequired reports whether err asks the caller for a (new) token.
func IsAuthRequired(err error) bool {
	return KindOf(err) == KindAuthRequired
}

// shouldRetry determines if an error kind is worth another attempt.
func shouldRetry(kind ErrorKind) bool {
	switch kind {
	case KindServer, KindTransport:
		return true
	default:
		// auth, client and protocol errors need caller intervention
		return false
	}
}
