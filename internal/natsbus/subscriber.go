package natsbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"sudooom.im.sync/internal/proto"
)

// EnvelopeHandler 信封处理器接口
type EnvelopeHandler interface {
	HandleRemote(ctx context.Context, env *proto.EventEnvelope)
}

// SubscriberConfig Worker Pool 配置
type SubscriberConfig struct {
	WorkerCount int // Worker 数量
	BufferSize  int // 消息缓冲区大小
}

// EventSubscriber 事件订阅器
// 广播订阅（无队列组）：每个节点都要收到每个信封才能服务本地通道
type EventSubscriber struct {
	nc           *nats.Conn
	handler      EnvelopeHandler
	logger       *slog.Logger
	subscription *nats.Subscription
	config       SubscriberConfig
	msgChan      chan *nats.Msg
	wg           sync.WaitGroup
	cancelFunc   context.CancelFunc
}

// NewEventSubscriber 创建事件订阅器
func NewEventSubscriber(nc *nats.Conn, handler EnvelopeHandler, config SubscriberConfig) *EventSubscriber {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 16
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}

	return &EventSubscriber{
		nc:      nc,
		handler: handler,
		logger:  slog.Default(),
		config:  config,
	}
}

// Start 启动订阅
func (s *EventSubscriber) Start(ctx context.Context) error {
	s.msgChan = make(chan *nats.Msg, s.config.BufferSize)

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(workerCtx)
	}

	sub, err := s.nc.Subscribe(SubjectEventBroadcast, func(msg *nats.Msg) {
		select {
		case s.msgChan <- msg:
		default:
			s.logger.Warn("Envelope buffer full, dropping envelope",
				"bufferSize", s.config.BufferSize)
		}
	})
	if err != nil {
		cancel()
		return err
	}

	s.subscription = sub
	s.logger.Info("NATS subscriber started",
		"subject", SubjectEventBroadcast,
		"workerCount", s.config.WorkerCount,
		"bufferSize", s.config.BufferSize,
	)
	return nil
}

func (s *EventSubscriber) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.msgChan:
			if !ok {
				return
			}
			s.handleEnvelope(ctx, msg.Data)
		}
	}
}

func (s *EventSubscriber) handleEnvelope(ctx context.Context, data []byte) {
	env, err := proto.DecodeEnvelope(data)
	if err != nil {
		s.logger.Error("Failed to decode event envelope", "error", err)
		return
	}
	s.handler.HandleRemote(ctx, env)
}

// Stop 停止订阅
// 先退订再取消 worker；msgChan 不关闭，订阅回调可能仍持有在途消息，
// 向已关闭通道发送会 panic，worker 统一通过 ctx 退出
func (s *EventSubscriber) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe", "error", err)
		}
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	s.wg.Wait()

	s.logger.Info("NATS subscriber stopped")
	return nil
}

// BufferUsage 缓冲区使用情况（用于监控）
func (s *EventSubscriber) BufferUsage() (current int, capacity int) {
	if s.msgChan == nil {
		return 0, 0
	}
	return len(s.msgChan), cap(s.msgChan)
}
