package invoker

import "strings"

// retryableSubstrings are matched case-insensitively against a transport
// error's message to decide whether it is transient.
var retryableSubstrings = []string{
	"timeout",
	"aborted",
	"econnrefused",
	"econnreset",
	"network",
	"unable to connect",
	"connection refused",
	"context deadline exceeded",
	"context canceled",
}

// isRetryable reports whether err's message matches one of the transport
// failure modes this system treats as transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isTimeout reports whether err's message indicates the call was aborted by
// its own deadline, as opposed to some other transient network condition.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "aborted") ||
		strings.Contains(msg, "context deadline exceeded")
}
