package entity

// RoomKind classifies what a room is for. Immutable after creation.
type RoomKind string

const (
	RoomKindCustomerSupport RoomKind = "customer_support"
	RoomKindVendorSupport   RoomKind = "vendor_support"
	RoomKindOrderInquiry    RoomKind = "order_inquiry"
	RoomKindProductInquiry  RoomKind = "product_inquiry"
	RoomKindDirectMessage   RoomKind = "direct_message"
	RoomKindGroupChat       RoomKind = "group_chat"
)

// RoomStatus is the room state-machine value.
type RoomStatus string

const (
	RoomStatusActive          RoomStatus = "active"
	RoomStatusWaitingCustomer RoomStatus = "waiting_customer"
	RoomStatusWaitingAgent    RoomStatus = "waiting_agent"
	RoomStatusOnHold          RoomStatus = "on_hold"
	RoomStatusResolved        RoomStatus = "resolved"
	RoomStatusClosed          RoomStatus = "closed"
	RoomStatusArchived        RoomStatus = "archived"
)

// SupportKinds is the support-eligible set: rooms of these kinds enter
// the agent queue and participate in waiting/claim transitions.
var SupportKinds = []RoomKind{
	RoomKindCustomerSupport,
	RoomKindVendorSupport,
	RoomKindOrderInquiry,
	RoomKindProductInquiry,
}

// IsSupportKind reports whether rooms of this kind go through the agent queue.
func (k RoomKind) IsSupportKind() bool {
	switch k {
	case RoomKindCustomerSupport, RoomKindVendorSupport, RoomKindOrderInquiry, RoomKindProductInquiry:
		return true
	}
	return false
}

// InitialStatus returns the state a freshly created room of this kind starts in.
func (k RoomKind) InitialStatus() RoomStatus {
	if k.IsSupportKind() {
		return RoomStatusWaitingAgent
	}
	return RoomStatusActive
}

// Terminal reports whether no trigger may leave this status.
func (s RoomStatus) Terminal() bool {
	return s == RoomStatusClosed || s == RoomStatusArchived
}

// Room represents a conversation container
type Room struct {
	Id                 string     `json:"id" gorm:"column:id;primaryKey"`
	Kind               RoomKind   `json:"kind" gorm:"column:kind;type:varchar(32);index:idx_status_kind,priority:2"`
	Status             RoomStatus `json:"status" gorm:"column:status;type:varchar(32);index:idx_status_kind,priority:1"`
	Priority           int        `json:"priority" gorm:"column:priority"`
	AssignedAgentId    string     `json:"assigned_agent_id,omitempty" gorm:"column:assigned_agent_id;index"`
	AssignedAgentName  string     `json:"assigned_agent_name,omitempty" gorm:"column:assigned_agent_name"`
	ProductId          string     `json:"product_id,omitempty" gorm:"column:product_id"`
	OrderId            string     `json:"order_id,omitempty" gorm:"column:order_id"`
	DedupeKey          string     `json:"-" gorm:"column:dedupe_key;index"`
	LastMessagePreview string     `json:"last_message_preview" gorm:"column:last_message_preview"`
	LastMessageAt      int64      `json:"last_message_at" gorm:"column:last_message_at"`
	MessageCount       int64      `json:"message_count" gorm:"column:message_count"`
	CreatedAt          int64      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt          int64      `json:"updated_at" gorm:"column:updated_at"`
	ClosedAt           int64      `json:"closed_at,omitempty" gorm:"column:closed_at"`

	// Members is the participant set; loaded by the store alongside the
	// room row, never empty after creation.
	Members []*RoomMember `json:"participants" gorm:"-"`
}

// TableName returns the table name for Room
func (Room) TableName() string {
	return "rooms"
}

// Member returns the participant record for a user, or nil.
func (r *Room) Member(userId string) *RoomMember {
	for _, m := range r.Members {
		if m.UserId == userId {
			return m
		}
	}
	return nil
}

// HasMember reports whether a user participates in the room.
func (r *Room) HasMember(userId string) bool {
	return r.Member(userId) != nil
}

// AddMember appends a participant if not already present and returns the record.
// Membership only ever grows.
func (r *Room) AddMember(userId, displayName string, role SenderKind, now int64) *RoomMember {
	if m := r.Member(userId); m != nil {
		return m
	}
	m := &RoomMember{
		RoomId:      r.Id,
		UserId:      userId,
		DisplayName: displayName,
		Role:        role,
		JoinedAt:    now,
		LastSeenAt:  now,
	}
	r.Members = append(r.Members, m)
	return m
}

// IncrementUnread bumps the unread counter of every participant except the
// excluded one (the sender, or the initiator for the auto welcome message).
func (r *Room) IncrementUnread(exceptUserId string) {
	for _, m := range r.Members {
		if m.UserId != exceptUserId {
			m.UnreadCount++
		}
	}
}

// ResetUnread zeroes the unread counter for a participant.
func (r *Room) ResetUnread(userId string, now int64) {
	if m := r.Member(userId); m != nil {
		m.UnreadCount = 0
		m.LastSeenAt = now
	}
}

// ClearAssignment removes the agent assignment (reopen / reassignment).
func (r *Room) ClearAssignment() {
	r.AssignedAgentId = ""
	r.AssignedAgentName = ""
}

// RoomMember represents a participant record in a room
type RoomMember struct {
	Id          int64      `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	RoomId      string     `json:"-" gorm:"column:room_id;uniqueIndex:ux_room_user,priority:1;index:idx_member_user,priority:2"`
	UserId      string     `json:"id" gorm:"column:user_id;uniqueIndex:ux_room_user,priority:2;index:idx_member_user,priority:1"`
	DisplayName string     `json:"display_name" gorm:"column:display_name"`
	Role        SenderKind `json:"role" gorm:"column:role;type:varchar(32)"`
	Muted       bool       `json:"muted" gorm:"column:muted"`
	UnreadCount int64      `json:"unread_count" gorm:"column:unread_count"`
	JoinedAt    int64      `json:"joined_at" gorm:"column:joined_at"`
	LastSeenAt  int64      `json:"last_seen_at" gorm:"column:last_seen_at"`
}

// TableName returns the table name for RoomMember
func (RoomMember) TableName() string {
	return "room_members"
}

// ParticipantInfo is the participant view with the ephemeral online bit.
type ParticipantInfo struct {
	UserId      string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Role        SenderKind `json:"role"`
	Online      bool       `json:"online"`
	Muted       bool       `json:"muted"`
	UnreadCount int64      `json:"unread_count"`
	JoinedAt    int64      `json:"joined_at"`
	LastSeenAt  int64      `json:"last_seen_at"`
}

// RoomInfo represents room info for API responses
type RoomInfo struct {
	Id                 string             `json:"id"`
	Kind               RoomKind           `json:"kind"`
	Status             RoomStatus         `json:"status"`
	Priority           int                `json:"priority"`
	AssignedAgentId    string             `json:"assigned_agent_id,omitempty"`
	AssignedAgentName  string             `json:"assigned_agent_name,omitempty"`
	ProductId          string             `json:"product_id,omitempty"`
	OrderId            string             `json:"order_id,omitempty"`
	Participants       []*ParticipantInfo `json:"participants"`
	LastMessagePreview string             `json:"last_message_preview"`
	LastMessageAt      int64              `json:"last_message_at"`
	MessageCount       int64              `json:"message_count"`
	CreatedAt          int64              `json:"created_at"`
	UpdatedAt          int64              `json:"updated_at"`
	ClosedAt           int64              `json:"closed_at,omitempty"`
}

// ToRoomInfo converts Room to RoomInfo. online reports per-participant
// presence; pass nil when presence is unknown (e.g. paged listings).
func (r *Room) ToRoomInfo(online func(userId string) bool) *RoomInfo {
	participants := make([]*ParticipantInfo, 0, len(r.Members))
	for _, m := range r.Members {
		p := &ParticipantInfo{
			UserId:      m.UserId,
			DisplayName: m.DisplayName,
			Role:        m.Role,
			Muted:       m.Muted,
			UnreadCount: m.UnreadCount,
			JoinedAt:    m.JoinedAt,
			LastSeenAt:  m.LastSeenAt,
		}
		if online != nil {
			p.Online = online(m.UserId)
		}
		participants = append(participants, p)
	}

	return &RoomInfo{
		Id:                 r.Id,
		Kind:               r.Kind,
		Status:             r.Status,
		Priority:           r.Priority,
		AssignedAgentId:    r.AssignedAgentId,
		AssignedAgentName:  r.AssignedAgentName,
		ProductId:          r.ProductId,
		OrderId:            r.OrderId,
		Participants:       participants,
		LastMessagePreview: r.LastMessagePreview,
		LastMessageAt:      r.LastMessageAt,
		MessageCount:       r.MessageCount,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		ClosedAt:           r.ClosedAt,
	}
}

// WelcomeText returns the automatic first message for a room kind.
func WelcomeText(kind RoomKind) string {
	switch kind {
	case RoomKindCustomerSupport:
		return "Thanks for reaching out. A support agent will be with you shortly."
	case RoomKindVendorSupport:
		return "Thanks for contacting vendor support. An agent will be with you shortly."
	case RoomKindOrderInquiry:
		return "Thanks for your order inquiry. An agent will review it and respond soon."
	case RoomKindProductInquiry:
		return "Your question has been sent. You will be notified when there is a reply."
	default:
		return ""
	}
}
