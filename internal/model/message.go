package model

import "time"

// MessageType 消息类型
type MessageType int

const (
	MessageTypeText  MessageType = 1 // 文本
	MessageTypeImage MessageType = 2 // 图片
	MessageTypeAudio MessageType = 3 // 语音
	MessageTypeVideo MessageType = 4 // 视频
	MessageTypeFile  MessageType = 5 // 文件
)

// Valid 消息类型是否合法
func (t MessageType) Valid() bool {
	return t >= MessageTypeText && t <= MessageTypeFile
}

// IsMedia 是否为媒体消息（内容为对象存储 URL）
func (t MessageType) IsMedia() bool {
	return t.Valid() && t != MessageTypeText
}

// Message 消息实体
// 规范排序键为 (CreatedAt, Id) 升序，所有消费方合并时必须保持该顺序
type Message struct {
	Id             int64         `json:"id" db:"id"`
	ConversationId int64         `json:"conversationId" db:"conversation_id"`
	SenderId       int64         `json:"senderId" db:"sender_id"`
	Content        string        `json:"content" db:"content"`
	MsgType        MessageType   `json:"msgType" db:"msg_type"`
	ReplyToId      *int64        `json:"replyToId,omitempty" db:"reply_to_id"`
	Edited         bool          `json:"edited" db:"edited"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`
	DeliveredAt    *time.Time    `json:"deliveredAt,omitempty" db:"delivered_at"`
	DeletedAt      *time.Time    `json:"deletedAt,omitempty" db:"deleted_at"`
	Receipts       []ReadReceipt `json:"receipts,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
}

// Deleted 是否已被软删除
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// ReadBy 用户是否已读该消息
func (m *Message) ReadBy(userId int64) bool {
	for _, r := range m.Receipts {
		if r.UserId == userId {
			return true
		}
	}
	return false
}

// MessageLess 按规范排序键 (CreatedAt, Id) 比较两条消息
func MessageLess(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Id < b.Id
}

// ReadReceipt 已读回执
// 不变式：每个 (MessageId, UserId) 至多一条，创建后不可删除
type ReadReceipt struct {
	MessageId int64     `json:"messageId" db:"message_id"`
	UserId    int64     `json:"userId" db:"user_id"`
	ReadAt    time.Time `json:"readAt" db:"read_at"`
}

// Reaction 表情回应
// 每个 (MessageId, UserId) 保留最后一次写入
type Reaction struct {
	MessageId int64     `json:"messageId" db:"message_id"`
	UserId    int64     `json:"userId" db:"user_id"`
	Emoji     string    `json:"emoji" db:"emoji"`
	ReactedAt time.Time `json:"reactedAt" db:"reacted_at"`
}
