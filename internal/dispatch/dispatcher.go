package dispatch

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	"sudooom.im.sync/internal/connection"
	"sudooom.im.sync/internal/proto"
	"sudooom.im.sync/internal/telemetry"
)

// EnvelopePublisher 跨节点信封发布端
type EnvelopePublisher interface {
	PublishEnvelope(env *proto.EventEnvelope) error
}

// Dispatcher 事件分发器
// 本地投递走注册表，跨节点投递走 NATS 广播；
// 每个事件对每条通道至多投递一次，失败的通道跳过不重试
type Dispatcher struct {
	registry  *connection.Registry
	publisher EnvelopePublisher
	nodeID    string
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewDispatcher 创建事件分发器
func NewDispatcher(registry *connection.Registry, publisher EnvelopePublisher, nodeID string, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		publisher: publisher,
		nodeID:    nodeID,
		metrics:   metrics,
		logger:    slog.Default(),
	}
}

// Dispatch 向目标用户集合分发事件
// 先完成本地投递，再广播给其他节点服务各自的本地通道
func (d *Dispatcher) Dispatch(ctx context.Context, targets []int64, ev *proto.ServerEvent) {
	targets = lo.Uniq(targets)
	d.deliverLocal(targets, ev)

	if d.publisher == nil {
		return
	}

	ev.OriginNode = d.nodeID
	env := &proto.EventEnvelope{Targets: targets, Event: *ev}
	if err := d.publisher.PublishEnvelope(env); err != nil {
		// 跨节点投递失败只影响远端通道，本地投递已完成
		d.logger.Error("Failed to publish envelope", "kind", ev.Kind(), "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.EnvelopesPublished.Inc()
	}
}

// HandleRemote 处理其他节点广播来的信封
// 发布节点已完成本地投递，回环信封直接丢弃
func (d *Dispatcher) HandleRemote(ctx context.Context, env *proto.EventEnvelope) {
	if env.Event.OriginNode == d.nodeID {
		return
	}
	if d.metrics != nil {
		d.metrics.EnvelopesReceived.Inc()
	}
	d.deliverLocal(env.Targets, &env.Event)
}

func (d *Dispatcher) deliverLocal(targets []int64, ev *proto.ServerEvent) {
	kind := ev.Kind()

	for _, userID := range targets {
		for _, ch := range d.registry.ChannelsFor(userID) {
			if err := ch.SendEvent(ev); err != nil {
				// 通道写入失败视为该通道已死，由心跳或会话循环回收
				d.logger.Debug("Failed to deliver event",
					"kind", kind,
					"userId", userID,
					"channelId", ch.ID(),
					"error", err)
				if d.metrics != nil {
					d.metrics.EventsDropped.WithLabelValues(kind).Inc()
				}
				continue
			}
			if d.metrics != nil {
				d.metrics.EventsDispatched.WithLabelValues(kind).Inc()
			}
		}
	}
}
