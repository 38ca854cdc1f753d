package connection

import (
	"context"
	"log/slog"
	"time"
)

// HeartbeatChecker 心跳超时检测器
// 只负责关闭失活通道；注销与在线状态清理由持有通道的会话循环完成
type HeartbeatChecker struct {
	registry      *Registry
	timeout       time.Duration
	checkInterval time.Duration
	logger        *slog.Logger
}

// NewHeartbeatChecker 创建心跳检测器
func NewHeartbeatChecker(registry *Registry, timeout, checkInterval time.Duration, logger *slog.Logger) *HeartbeatChecker {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}

	return &HeartbeatChecker{
		registry:      registry,
		timeout:       timeout,
		checkInterval: checkInterval,
		logger:        logger,
	}
}

// Start 启动心跳检测（阻塞，应在 goroutine 中调用）
func (h *HeartbeatChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	h.logger.Info("Heartbeat checker started",
		"timeout", h.timeout,
		"check_interval", h.checkInterval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Heartbeat checker stopped")
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *HeartbeatChecker) sweep() {
	chans := h.registry.All()
	now := time.Now()
	closed := 0

	for _, ch := range chans {
		if now.Sub(ch.LastActive()) > h.timeout {
			closed++
			h.logger.Debug("Channel heartbeat timeout",
				"channel_id", ch.ID(),
				"user_id", ch.UserID(),
				"last_active", ch.LastActive())
			ch.Close()
		}
	}

	if closed > 0 {
		h.logger.Info("Heartbeat sweep completed",
			"total", len(chans),
			"closed", closed)
	}
}
