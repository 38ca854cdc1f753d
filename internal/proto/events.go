package proto

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/model"
)

var validate = validator.New()

// ============== 下行事件 (服务端 -> 客户端) ==============

// ServerEvent 下行事件封装
// 封闭的标签联合：有且仅有一个变体字段非空，客户端对变体做穷尽匹配
type ServerEvent struct {
	OriginNode string `json:"originNode,omitempty"`

	ReceiveMessage      *model.Message       `json:"receiveMessage,omitempty"`
	MessageAck          *MessageAck          `json:"messageAck,omitempty"`
	MessageWasDelivered *MessageWasDelivered `json:"messageWasDelivered,omitempty"`
	MessageSeen         *MessageSeen         `json:"messageSeen,omitempty"`
	MessageReacted      *model.Message       `json:"messageReacted,omitempty"`
	MessageEdited       *model.Message       `json:"messageEdited,omitempty"`
	MessageDeleted      *MessageDeleted      `json:"messageDeleted,omitempty"`
	Typing              *Typing              `json:"typing,omitempty"`
	UserStatusChanged   *UserStatusChanged   `json:"userStatusChanged,omitempty"`
	ConversationPage    *ConversationPage    `json:"conversationPage,omitempty"`
	MessagePage         *MessagePage         `json:"messagePage,omitempty"`
	AuthAck             *AuthAck             `json:"authAck,omitempty"`
	Error               *ErrorReply          `json:"error,omitempty"`
}

// AuthAck 认证成功响应
type AuthAck struct {
	UserId int64 `json:"userId"`
}

// MessageAck 发送确认：临时 ID 到规范消息的映射，发送者用其替换乐观条目
type MessageAck struct {
	TempId  string        `json:"tempId"`
	Message model.Message `json:"message"`
}

// MessageWasDelivered 送达确认
type MessageWasDelivered struct {
	ConversationId int64     `json:"conversationId"`
	MessageId      int64     `json:"messageId"`
	DeliveredAt    time.Time `json:"deliveredAt"`
}

// MessageSeen 已读回执（带会话 ID，客户端无需反查消息归属）
type MessageSeen struct {
	ConversationId int64     `json:"conversationId"`
	MessageId      int64     `json:"messageId"`
	UserId         int64     `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

// MessageDeleted 删除通知，仅携带标识
type MessageDeleted struct {
	ConversationId int64 `json:"conversationId"`
	MessageId      int64 `json:"messageId"`
}

// Typing 正在输入信号，无内容负载，2 秒内无后续信号由客户端自行清除
type Typing struct {
	ConversationId int64 `json:"conversationId"`
	UserId         int64 `json:"userId"`
}

// UserStatusChanged 在线状态变更
type UserStatusChanged struct {
	UserId int64                `json:"userId"`
	Status model.PresenceStatus `json:"status"`
}

// ConversationPage 会话分页响应
type ConversationPage struct {
	ReqId              string               `json:"reqId"`
	Conversations      []model.Conversation `json:"conversations"`
	TotalConversations int64                `json:"totalConversations"`
	NextCursor         string               `json:"nextCursor,omitempty"`
	HasMore            bool                 `json:"hasMore"`
}

// MessagePage 消息分页响应
type MessagePage struct {
	ReqId          string          `json:"reqId"`
	ConversationId int64           `json:"conversationId"`
	Messages       []model.Message `json:"messages"`
	NextCursor     string          `json:"nextCursor,omitempty"`
	HasMore        bool            `json:"hasMore"`
}

// ErrorReply 错误响应（同步拒绝：校验/权限/不存在）
type ErrorReply struct {
	ReqId   string `json:"reqId,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Kind 返回事件类型名，用于指标与日志
func (e *ServerEvent) Kind() string {
	switch {
	case e.ReceiveMessage != nil:
		return "receive-message"
	case e.MessageAck != nil:
		return "message-ack"
	case e.MessageWasDelivered != nil:
		return "message-was-delivered"
	case e.MessageSeen != nil:
		return "message-seen"
	case e.MessageReacted != nil:
		return "message-reacted"
	case e.MessageEdited != nil:
		return "message-edited"
	case e.MessageDeleted != nil:
		return "message-deleted"
	case e.Typing != nil:
		return "typing"
	case e.UserStatusChanged != nil:
		return "user-status-changed"
	case e.ConversationPage != nil:
		return "conversation-page"
	case e.MessagePage != nil:
		return "message-page"
	case e.AuthAck != nil:
		return "auth-ack"
	case e.Error != nil:
		return "error"
	}
	return "unknown"
}

// Validate 校验恰好一个变体被设置
func (e *ServerEvent) Validate() error {
	count := 0
	for _, set := range []bool{
		e.ReceiveMessage != nil,
		e.MessageAck != nil,
		e.MessageWasDelivered != nil,
		e.MessageSeen != nil,
		e.MessageReacted != nil,
		e.MessageEdited != nil,
		e.MessageDeleted != nil,
		e.Typing != nil,
		e.UserStatusChanged != nil,
		e.ConversationPage != nil,
		e.MessagePage != nil,
		e.AuthAck != nil,
		e.Error != nil,
	} {
		if set {
			count++
		}
	}
	if count != 1 {
		return apperrors.ErrUnknownEventKind
	}
	return nil
}

// DecodeServerEvent 从通道边界解码下行事件
func DecodeServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, apperrors.ErrMalformedPacket.Wrap(err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Encode 序列化下行事件
func (e *ServerEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ============== 上行数据包 (客户端 -> 服务端) ==============

// ClientPacket 上行数据包封装，同样是封闭的标签联合
type ClientPacket struct {
	Auth               *Auth               `json:"auth,omitempty"`
	Heartbeat          *Heartbeat          `json:"heartbeat,omitempty"`
	SendMessage        *SendMessage        `json:"sendMessage,omitempty"`
	MessageDelivered   *MessageDelivered   `json:"messageDelivered,omitempty"`
	MarkSeen           *MarkSeen           `json:"markSeen,omitempty"`
	React              *React              `json:"react,omitempty"`
	Edit               *Edit               `json:"edit,omitempty"`
	Delete             *Delete             `json:"delete,omitempty"`
	TypingSignal       *TypingSignal       `json:"typing,omitempty"`
	AddParticipant     *AddParticipant     `json:"addParticipant,omitempty"`
	FetchConversations *FetchConversations `json:"fetchConversations,omitempty"`
	FetchMessages      *FetchMessages      `json:"fetchMessages,omitempty"`
}

// Auth 首包认证，携带外部认证服务签发的 Token
type Auth struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform"`
}

// Heartbeat 心跳保活
type Heartbeat struct{}

// SendMessage 发送消息请求
type SendMessage struct {
	TempId         string            `json:"tempId" validate:"required"`
	ConversationId int64             `json:"conversationId" validate:"required,gt=0"`
	Content        string            `json:"content"`
	MsgType        model.MessageType `json:"msgType" validate:"required,min=1,max=5"`
	ReplyToId      *int64            `json:"replyToId,omitempty"`
}

// MessageDelivered 送达回执上报
type MessageDelivered struct {
	ConversationId int64 `json:"conversationId" validate:"required,gt=0"`
	MessageId      int64 `json:"messageId" validate:"required,gt=0"`
}

// MarkSeen 已读上报
type MarkSeen struct {
	MessageId int64 `json:"messageId" validate:"required,gt=0"`
}

// React 表情回应
type React struct {
	MessageId int64  `json:"messageId" validate:"required,gt=0"`
	Emoji     string `json:"emoji" validate:"required,max=16"`
}

// Edit 编辑消息
type Edit struct {
	MessageId int64  `json:"messageId" validate:"required,gt=0"`
	Content   string `json:"content" validate:"required"`
}

// Delete 删除消息
type Delete struct {
	MessageId int64 `json:"messageId" validate:"required,gt=0"`
}

// TypingSignal 正在输入上报
type TypingSignal struct {
	ConversationId int64 `json:"conversationId" validate:"required,gt=0"`
}

// AddParticipant 追加会话成员，仅限具备成员管理能力的成员
type AddParticipant struct {
	ConversationId int64 `json:"conversationId" validate:"required,gt=0"`
	UserId         int64 `json:"userId" validate:"required,gt=0"`
}

// FetchConversations 会话分页请求
type FetchConversations struct {
	ReqId  string `json:"reqId" validate:"required"`
	Cursor string `json:"cursor,omitempty"`
}

// FetchMessages 消息分页请求
type FetchMessages struct {
	ReqId          string `json:"reqId" validate:"required"`
	ConversationId int64  `json:"conversationId" validate:"required,gt=0"`
	Cursor         string `json:"cursor,omitempty"`
}

// Kind 返回数据包类型名
func (p *ClientPacket) Kind() string {
	switch {
	case p.Auth != nil:
		return "auth"
	case p.Heartbeat != nil:
		return "heartbeat"
	case p.SendMessage != nil:
		return "send-message"
	case p.MessageDelivered != nil:
		return "message-delivered"
	case p.MarkSeen != nil:
		return "message-seen"
	case p.React != nil:
		return "react"
	case p.Edit != nil:
		return "edit"
	case p.Delete != nil:
		return "delete"
	case p.TypingSignal != nil:
		return "typing"
	case p.AddParticipant != nil:
		return "add-participant"
	case p.FetchConversations != nil:
		return "fetch-conversations"
	case p.FetchMessages != nil:
		return "fetch-messages"
	}
	return "unknown"
}

func (p *ClientPacket) variant() any {
	switch {
	case p.Auth != nil:
		return p.Auth
	case p.Heartbeat != nil:
		return p.Heartbeat
	case p.SendMessage != nil:
		return p.SendMessage
	case p.MessageDelivered != nil:
		return p.MessageDelivered
	case p.MarkSeen != nil:
		return p.MarkSeen
	case p.React != nil:
		return p.React
	case p.Edit != nil:
		return p.Edit
	case p.Delete != nil:
		return p.Delete
	case p.TypingSignal != nil:
		return p.TypingSignal
	case p.AddParticipant != nil:
		return p.AddParticipant
	case p.FetchConversations != nil:
		return p.FetchConversations
	case p.FetchMessages != nil:
		return p.FetchMessages
	}
	return nil
}

// Validate 校验恰好一个变体被设置，且变体字段合法
func (p *ClientPacket) Validate() error {
	count := 0
	for _, set := range []bool{
		p.Auth != nil,
		p.Heartbeat != nil,
		p.SendMessage != nil,
		p.MessageDelivered != nil,
		p.MarkSeen != nil,
		p.React != nil,
		p.Edit != nil,
		p.Delete != nil,
		p.TypingSignal != nil,
		p.AddParticipant != nil,
		p.FetchConversations != nil,
		p.FetchMessages != nil,
	} {
		if set {
			count++
		}
	}
	if count != 1 {
		return apperrors.ErrMalformedPacket
	}
	if v := p.variant(); v != nil {
		if err := validate.Struct(v); err != nil {
			return apperrors.ErrInvalidParams.Wrap(err)
		}
	}
	return nil
}

// DecodeClientPacket 从通道边界解码并校验上行数据包
// 不合法的数据包同步拒绝，不进入任何处理流程
func DecodeClientPacket(data []byte) (*ClientPacket, error) {
	var pkt ClientPacket
	if err := json.Unmarshal(data, &pkt); err != nil {
		return nil, apperrors.ErrMalformedPacket.Wrap(err)
	}
	if err := pkt.Validate(); err != nil {
		return nil, err
	}
	return &pkt, nil
}

// Encode 序列化上行数据包
func (p *ClientPacket) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// ============== 跨节点信封 ==============

// EventEnvelope NATS 广播信封：目标用户集合加事件本体
// 每个节点收到后只向本地注册的通道投递，发布节点通过 OriginNode 去重
type EventEnvelope struct {
	Targets []int64     `json:"targets"`
	Event   ServerEvent `json:"event"`
}

// DecodeEnvelope 解码跨节点信封
func DecodeEnvelope(data []byte) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.ErrMalformedPacket.Wrap(err)
	}
	if err := env.Event.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
