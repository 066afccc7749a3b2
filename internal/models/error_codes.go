package models

// Normalized error codes shared by the channel adapters, the dispatcher
// and the retry pass. Adapters translate provider responses into this
// vocabulary so retry classification needs no channel-specific knowledge.
const (
	ErrCodeInvalidPhone    = "invalid_phone"
	ErrCodeBlocked         = "blocked"
	ErrCodeUnsubscribed    = "unsubscribed"
	ErrCodeSpam            = "spam"
	ErrCodeTimeout         = "timeout"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeProviderError   = "provider_error"
	ErrCodeNetworkError    = "network_error"
	ErrCodeConnectionError = "connection_error"
)

// permanentErrorCodes are never retried, regardless of remaining budget
var permanentErrorCodes = map[string]bool{
	ErrCodeInvalidPhone: true,
	ErrCodeBlocked:      true,
	ErrCodeUnsubscribed: true,
	ErrCodeSpam:         true,
}

// IsPermanentErrorCode reports whether the code marks a failure that no
// retry can fix. Unrecognized codes are treated as transient.
func IsPermanentErrorCode(code string) bool {
	return permanentErrorCodes[code]
}
