package natsbus

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.im.sync/internal/proto"
)

// EventPublisher 事件发布器
type EventPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewEventPublisher 创建事件发布器
func NewEventPublisher(nc *nats.Conn) *EventPublisher {
	return &EventPublisher{
		nc:     nc,
		logger: slog.Default(),
	}
}

// PublishEnvelope 广播事件信封到所有同步节点
// 发布节点已完成本地投递，其余节点通过 OriginNode 识别并跳过回环
func (p *EventPublisher) PublishEnvelope(env *proto.EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("Failed to marshal event envelope", "error", err)
		return err
	}

	if err := p.nc.Publish(SubjectEventBroadcast, data); err != nil {
		p.logger.Error("Failed to publish event envelope",
			"kind", env.Event.Kind(), "error", err)
		return err
	}

	p.logger.Debug("Published event envelope",
		"kind", env.Event.Kind(), "targets", len(env.Targets))
	return nil
}
