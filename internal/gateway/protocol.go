package gateway

import (
	"encoding/json"

	"github.com/parleyhq/parley/internal/entity"
)

// WSRequest represents a WebSocket request frame
type WSRequest struct {
	ReqIdentifier int32           `json:"req_identifier"` // Request type
	MsgIncr       string          `json:"msg_incr"`       // Client frame counter/trace Id
	OperationId   string          `json:"operation_id"`   // Operation Id
	SendId        string          `json:"send_id"`        // Sender user Id
	Data          json.RawMessage `json:"data"`           // Business data
}

// WSResponse represents a WebSocket response frame
type WSResponse struct {
	ReqIdentifier int32           `json:"req_identifier"` // Request type (echo back)
	MsgIncr       string          `json:"msg_incr"`       // Frame counter (echo back)
	OperationId   string          `json:"operation_id"`   // Operation Id (echo back)
	ErrCode       int             `json:"err_code"`       // Error code, 0 = success
	ErrMsg        string          `json:"err_msg"`        // Error message
	Data          json.RawMessage `json:"data,omitempty"` // Response data
}

// SubscribeReq represents subscribe/unsubscribe request data
type SubscribeReq struct {
	RoomId string `json:"room_id"`
}

// SubscribeResp confirms a subscription and tells the client where to
// resume pulling from.
type SubscribeResp struct {
	RoomId string `json:"room_id"`
	MaxSeq int64  `json:"max_seq"`
}

// SendMsgReq represents send message request data
type SendMsgReq struct {
	RoomId      string             `json:"room_id"`
	ClientMsgId string             `json:"client_msg_id,omitempty"`
	Content     string             `json:"content"`
	ContentKind entity.ContentKind `json:"content_kind,omitempty"`
}

// MarkReadReq represents mark read request data
type MarkReadReq struct {
	RoomId string `json:"room_id"`
}

// MarkReadResp carries the ids of the messages the call flipped to read.
type MarkReadResp struct {
	RoomId     string  `json:"room_id"`
	MessageIds []int64 `json:"message_ids"`
}

// PullMsgReq represents pull messages request data. AfterSeq is the
// client's high-water mark; the server returns messages with a greater
// seq in ascending order.
type PullMsgReq struct {
	RoomId   string `json:"room_id"`
	AfterSeq int64  `json:"after_seq"`
	Limit    int    `json:"limit,omitempty"`
}

// PullMsgResp represents pull messages response data
type PullMsgResp struct {
	RoomId   string                `json:"room_id"`
	Messages []*entity.MessageInfo `json:"messages"`
	MaxSeq   int64                 `json:"max_seq"`
}

// TypingReq represents typing indicator request data
type TypingReq struct {
	RoomId string `json:"room_id"`
	Typing bool   `json:"typing"`
}

// Encode encodes data to JSON bytes
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to struct
func Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
