package ai

import "errors"

// ErrQuotaExceeded indicates the AI provider reported an exhausted quota. It is
// not retried: waiting does not bring quota back within a run.
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrAuth indicates the provider rejected the credentials (HTTP 401/403).
var ErrAuth = errors.New("ai authentication failed")

// ErrTransient covers connection failures, timeouts, rate limits and 5xx
// responses that survived the client's own retries.
var ErrTransient = errors.New("ai transient failure")

// ErrNoCodeBlock indicates the response carried no well-formed fenced code block.
var ErrNoCodeBlock = errors.New("ai response has no code block")

// IsFatal reports whether err should stop all further oracle calls for the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrQuotaExceeded)
}
