package model

import "time"

// Conversation 会话实体
// 成员集合只增不减，PostgreSQL 为会话与消息的最终事实来源
type Conversation struct {
	Id            int64         `json:"id" db:"id"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
	LastMessageAt time.Time     `json:"lastMessageAt" db:"last_message_at"`
	Participants  []Participant `json:"participants,omitempty"`
	UnreadCount   int           `json:"unreadCount"` // 来自 Redis 计数器，按请求方视角填充
}

// Role 会话成员角色
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Capability 成员能力分类
// 权限判定统一通过该枚举，调用方不做散落的角色比较
type Capability int

const (
	ReadOnlyParticipant Capability = iota
	CanManageParticipants
)

// Participant 会话成员
// 不变式：一个 UserId 在同一会话中至多出现一次
type Participant struct {
	ConversationId int64     `json:"conversationId" db:"conversation_id"`
	UserId         int64     `json:"userId" db:"user_id"`
	Role           Role      `json:"role" db:"role"`
	JoinedAt       time.Time `json:"joinedAt" db:"joined_at"`
}

// Capability 返回成员的能力分类
func (p Participant) Capability() Capability {
	if p.Role == RoleOwner {
		return CanManageParticipants
	}
	return ReadOnlyParticipant
}
