package gateway

import "time"

// WebSocket frame identifiers
const (
	// Request identifiers
	WSSubscribe   = 1001 // Follow a room's events
	WSUnsubscribe = 1002 // Stop following a room
	WSSendMsg     = 1003 // Send message
	WSMarkRead    = 1004 // Mark a room read
	WSPullMsg     = 1005 // Pull messages after a seq
	WSTyping      = 1006 // Typing indicator

	// Push identifiers
	WSPushEvent     = 2001 // Server push room event
	WSKickOnlineMsg = 2002 // Kick connection offline
)

// Timeout constants
const (
	// WriteWait is time allowed to write a message to the peer
	WriteWait = 10 * time.Second

	// PongWait is time allowed to read the next pong message from the peer
	PongWait = 30 * time.Second

	// PingPeriod is period between pings. Must be less than PongWait
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is maximum message size allowed from peer
	MaxMessageSize = 51200
)

// Query parameter keys
const (
	QueryToken       = "token"
	QueryUserId      = "user_id"
	QueryOperationId = "operation_id"
)
