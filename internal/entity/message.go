package entity

// SenderKind classifies who produced a message.
type SenderKind string

const (
	SenderKindCustomer     SenderKind = "customer"
	SenderKindVendor       SenderKind = "vendor"
	SenderKindAdmin        SenderKind = "admin"
	SenderKindSupportAgent SenderKind = "support_agent"
	SenderKindSystem       SenderKind = "system"
)

// IsAgentSide reports whether this sender speaks for the support desk.
func (k SenderKind) IsAgentSide() bool {
	return k == SenderKindSupportAgent || k == SenderKindAdmin
}

// IsCustomerSide reports whether this sender is the party seeking support.
func (k SenderKind) IsCustomerSide() bool {
	return k == SenderKindCustomer || k == SenderKindVendor
}

// ContentKind classifies message content.
type ContentKind string

const (
	ContentKindText         ContentKind = "text"
	ContentKindImage        ContentKind = "image"
	ContentKindFile         ContentKind = "file"
	ContentKindSystem       ContentKind = "system"
	ContentKindTyping       ContentKind = "typing" // ephemeral, never persisted
	ContentKindOrderRef     ContentKind = "order_ref"
	ContentKindProductRef   ContentKind = "product_ref"
	ContentKindAutoResponse ContentKind = "auto_response"
)

// DeliveryStatus reflects the sender's view of delivery health.
// Recipient read state lives on the room's unread counters.
type DeliveryStatus string

const (
	DeliverySending   DeliveryStatus = "sending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Message represents an immutable unit of conversation content.
// Once appended, content, sender, seq and timestamp never change; only
// DeliveryStatus and ReadAt may be updated.
type Message struct {
	Id             int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	RoomId         string         `json:"room_id" gorm:"column:room_id;uniqueIndex:ux_room_seq,priority:1;index:idx_room_ts,priority:1"`
	Seq            int64          `json:"seq" gorm:"column:seq;uniqueIndex:ux_room_seq,priority:2"`
	ClientMsgId    string         `json:"client_msg_id,omitempty" gorm:"column:client_msg_id;index"`
	SenderId       string         `json:"sender_id" gorm:"column:sender_id"`
	SenderName     string         `json:"sender_name" gorm:"column:sender_name"`
	SenderKind     SenderKind     `json:"sender_kind" gorm:"column:sender_kind;type:varchar(32)"`
	Content        string         `json:"content" gorm:"column:content;type:text"`
	ContentKind    ContentKind    `json:"content_kind" gorm:"column:content_kind;type:varchar(32)"`
	DeliveryStatus DeliveryStatus `json:"delivery_status" gorm:"column:delivery_status;type:varchar(16)"`
	SendAt         int64          `json:"send_at" gorm:"column:send_at;index:idx_room_ts,priority:2"`
	ReadAt         int64          `json:"read_at,omitempty" gorm:"column:read_at"`
	CreatedAt      int64          `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      int64          `json:"updated_at" gorm:"column:updated_at"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// MessageDraft is the caller-supplied part of a message; the store
// assigns id, seq and delivery status at append time.
type MessageDraft struct {
	ClientMsgId string      `json:"client_msg_id,omitempty"`
	SenderId    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	SenderKind  SenderKind  `json:"sender_kind"`
	Content     string      `json:"content"`
	ContentKind ContentKind `json:"content_kind"`
}

// MessageInfo represents message info for API responses
type MessageInfo struct {
	Id             int64          `json:"id"`
	RoomId         string         `json:"room_id"`
	Seq            int64          `json:"seq"`
	ClientMsgId    string         `json:"client_msg_id,omitempty"`
	SenderId       string         `json:"sender_id"`
	SenderName     string         `json:"sender_name"`
	SenderKind     SenderKind     `json:"sender_kind"`
	Content        string         `json:"content"`
	ContentKind    ContentKind    `json:"content_kind"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	SendAt         int64          `json:"send_at"`
	ReadAt         int64          `json:"read_at,omitempty"`
}

// ToMessageInfo converts Message to MessageInfo
func (m *Message) ToMessageInfo() *MessageInfo {
	return &MessageInfo{
		Id:             m.Id,
		RoomId:         m.RoomId,
		Seq:            m.Seq,
		ClientMsgId:    m.ClientMsgId,
		SenderId:       m.SenderId,
		SenderName:     m.SenderName,
		SenderKind:     m.SenderKind,
		Content:        m.Content,
		ContentKind:    m.ContentKind,
		DeliveryStatus: m.DeliveryStatus,
		SendAt:         m.SendAt,
		ReadAt:         m.ReadAt,
	}
}
