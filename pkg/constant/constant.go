package constant

import "time"

// Pagination limits
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPullLimit    = 100
)

// Room priority range (1 low .. 5 urgent)
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityMedium = 3
	PriorityHigh   = 4
	PriorityUrgent = 5

	DefaultPriority = PriorityNormal
)

// Typing indicator TTL: a typing entry expires if the client does not
// refresh it within this window.
const DefaultTypingTTL = 5 * time.Second

// LastMessagePreviewLen caps the denormalized room preview text.
const LastMessagePreviewLen = 120

// Online TTL for the gateway-level redis online flag.
const OnlineTTL = 60 * time.Second

// Redis key patterns (without prefix, use RedisKey*() to get full key)
const (
	redisKeyOnline  = "online:%s"   // online:{user_id}
	redisKeySeqRoom = "seq:room:%s" // seq:room:{room_id}
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "parley:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// Redis key getters with prefix
func RedisKeyOnline() string  { return redisKeyPrefix + redisKeyOnline }
func RedisKeySeqRoom() string { return redisKeyPrefix + redisKeySeqRoom }
