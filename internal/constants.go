package internal

const (
	HeaderUserID     = "user_id"
	HeaderRetryCount = "retry_count"
	HeaderPushKind   = "push_kind"

	// Dead-letter queue headers
	HeaderDLQOriginalQueue = "dlq_original_queue"
	HeaderDLQErrorMessage  = "dlq_error_message"

	presenceKeyPrefix = "presence:"
)

// PresenceKey is the cache key under which a user's presence record lives.
func PresenceKey(userID string) string {
	return presenceKeyPrefix + userID
}
