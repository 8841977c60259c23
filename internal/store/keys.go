// internal/store/keys.go

package store

const (
	// QueueKey holds queued user ids; LPUSH at the head, BRPOP from the tail.
	QueueKey = "match:queue"
	// GeoKey indexes profile coordinates for the radius pre-filter.
	GeoKey = "match:geo"
	// ExpiryKey scores active connection ids by their expiry in unix ms.
	ExpiryKey = "match:expiry"
	// DefaultRouterChannel is the well-known pub/sub channel every instance subscribes to.
	DefaultRouterChannel = "chat_router"
)

func ProfileKey(userID string) string {
	return "user:profile:" + userID
}

func PresenceKey(userID string) string {
	return "user:status:" + userID
}

func SocketsKey(userID string) string {
	return "user:sockets:" + userID
}

func SocketKey(socketID string) string {
	return "socket:" + socketID
}

func SessionKey(connectionID string) string {
	return "match:info:" + connectionID
}

// VotesKey is the vote set for one action on one connection
func VotesKey(connectionID, action string) string {
	return "match:votes:" + connectionID + ":" + action
}

func ChatKey(connectionID string) string {
	return "chat:" + connectionID
}

func UnreadKey(userID string) string {
	return "user:unread:" + userID
}

func UnreadHydratedKey(userID string) string {
	return "user:unread:" + userID + ":hydrated"
}

func ActiveChatKey(userID string) string {
	return "user:active_chat:" + userID
}

func TypingKey(connectionID, userID string) string {
	return "chat:typing:" + connectionID + ":" + userID
}

func NotificationsKey(userID string) string {
	return "user:notifications:" + userID
}

func RateLimitKey(key string) string {
	return "ratelimit:" + key
}

func IdempotencyKey(key string) string {
	return "idempotency:" + key
}
