package connection

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/webtransport-go"

	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/proto"
)

var channelIDCounter int64

// Sender 事件通道的发送端
// Registry 与 Dispatcher 只依赖该接口，测试中以内存实现替代
type Sender interface {
	ID() int64
	UserID() int64
	SendEvent(ev *proto.ServerEvent) error
	LastActive() time.Time
	Close()
}

// Channel 一条客户端双向事件流
// 写入走带缓冲的 writeChan，由独立的写循环串行落到 WebTransport 流上
type Channel struct {
	id         int64
	userID     atomic.Int64
	deviceID   string
	platform   string
	session    *webtransport.Session
	stream     webtransport.Stream
	logger     *slog.Logger
	writeChan  chan []byte
	closeChan  chan struct{}
	closeOnce  sync.Once
	createdAt  time.Time
	lastActive atomic.Int64
}

// NewChannel 包装一个 WebTransport 会话为事件通道并启动写循环
func NewChannel(session *webtransport.Session, stream webtransport.Stream, logger *slog.Logger) *Channel {
	id := atomic.AddInt64(&channelIDCounter, 1)
	c := &Channel{
		id:        id,
		session:   session,
		stream:    stream,
		logger:    logger,
		writeChan: make(chan []byte, 256),
		closeChan: make(chan struct{}),
		createdAt: time.Now(),
	}
	c.lastActive.Store(time.Now().UnixMilli())
	go c.writeLoop()
	return c
}

func (c *Channel) ID() int64 {
	return c.id
}

func (c *Channel) UserID() int64 {
	return c.userID.Load()
}

func (c *Channel) DeviceID() string {
	return c.deviceID
}

func (c *Channel) Platform() string {
	return c.platform
}

// BindIdentity 认证成功后绑定身份
func (c *Channel) BindIdentity(userID int64, deviceID, platform string) {
	c.userID.Store(userID)
	c.deviceID = deviceID
	c.platform = platform
	c.Touch()
}

// SendEvent 序列化事件并排队写出
// 通道已关闭时返回错误，调用方不重试（每次分发至多一次投递）
func (c *Channel) SendEvent(ev *proto.ServerEvent) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	return c.Send(proto.BuildFrame(data))
}

// Send 排队写出一帧
func (c *Channel) Send(frame []byte) error {
	select {
	case c.writeChan <- frame:
		return nil
	case <-c.closeChan:
		return apperrors.ErrChannelClosed
	}
}

func (c *Channel) writeLoop() {
	for {
		select {
		case frame := <-c.writeChan:
			if _, err := c.stream.Write(frame); err != nil {
				c.logger.Error("Failed to write frame", "channel_id", c.id, "error", err)
			}
		case <-c.closeChan:
			return
		}
	}
}

// Close 关闭通道，幂等
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.session.CloseWithError(0, "channel closed")
	})
}

// Touch 更新活跃时间（收到任意数据包时调用）
func (c *Channel) Touch() {
	c.lastActive.Store(time.Now().UnixMilli())
}

// LastActive 最近活跃时间
func (c *Channel) LastActive() time.Time {
	return time.UnixMilli(c.lastActive.Load())
}

// CreatedAt 通道建立时间
func (c *Channel) CreatedAt() time.Time {
	return c.createdAt
}
