package types

import "errors"

// Error taxonomy for claim processing. The retry policy keys off these
// sentinels: transient errors are retried with backoff, permanent errors
// terminate the claim immediately, nonce conflicts are retried with a
// refreshed nonce and do not count against the backoff budget.
var (
	// ErrServiceUnavailable wraps transport failures and 5xx responses
	// from the external verification service.
	ErrServiceUnavailable = errors.New("external service unavailable")

	// ErrSubjectNotFound means the queried entity does not exist on the
	// external service. Permanent rejection.
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrTransientNetwork wraps node timeouts, connection resets and
	// other retryable ledger transport failures.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrAuthorizationRejected means the ledger reverted the
	// confirmation call, which indicates the sending address is not the
	// registered oracle for the job. Retrying wastes gas.
	ErrAuthorizationRejected = errors.New("ledger rejected submission: oracle not authorized")

	// ErrDecode means an event log with a matching topic carried a
	// payload that does not decode per the declared ABI types. Scoped to
	// the single event.
	ErrDecode = errors.New("event decode failed")

	// ErrNonceConflict means the ledger node rejected the transaction
	// for nonce reasons (another sender, stuck replacement).
	ErrNonceConflict = errors.New("nonce conflict")
)

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrTransientNetwork)
}

// IsPermanent reports whether err terminates the claim without retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrSubjectNotFound) || errors.Is(err, ErrAuthorizationRejected)
}
