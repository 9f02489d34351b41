package identity

import "errors"

// ErrAuthUnavailable is returned when the auth authority cannot be reached
// or anonymous identity issuance is disabled. Callers decide whether to
// retry; this layer never retries on its own.
var ErrAuthUnavailable = errors.New("auth authority unavailable")
