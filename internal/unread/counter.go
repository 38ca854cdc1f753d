package unread

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter 未读计数器（基于 Redis）
// 计数是派生状态：消息与回执的事实来源在 PostgreSQL，
// 计数丢失时客户端可通过重拉历史重建，因此写入失败只记日志不回滚
type Counter struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewCounter 创建未读计数器
func NewCounter(redisClient *redis.Client) *Counter {
	return &Counter{
		redisClient: redisClient,
		logger:      slog.Default(),
	}
}

func convKey(userID, convID int64) string {
	return fmt.Sprintf("sync:conv:%d:%d", userID, convID)
}

func indexKey(userID int64) string {
	return fmt.Sprintf("sync:conv:index:%d", userID)
}

// Bump 消息到达时为除发送者外的所有成员递增未读数
// 同时推进每个成员的会话索引，保证会话列表按最近活动排序
func (c *Counter) Bump(ctx context.Context, memberIDs []int64, senderID, convID, msgID int64) error {
	now := time.Now().UnixMilli()
	member := strconv.FormatInt(convID, 10)

	pipe := c.redisClient.Pipeline()
	for _, userID := range memberIDs {
		key := convKey(userID, convID)
		pipe.HSet(ctx, key, "last_msg_id", msgID, "update_at", now)
		if userID != senderID {
			pipe.HIncrBy(ctx, key, "unread_count", 1)
		}
		pipe.ZAdd(ctx, indexKey(userID), redis.Z{Score: float64(now), Member: member})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Clear 清零用户在某会话的未读数（首次已读回执时调用）
func (c *Counter) Clear(ctx context.Context, userID, convID, lastReadMsgID int64) error {
	return c.redisClient.HSet(ctx, convKey(userID, convID),
		"unread_count", 0,
		"last_read_msg_id", lastReadMsgID,
	).Err()
}

// Counts 批量获取用户在一组会话中的未读数（填充会话分页响应）
func (c *Counter) Counts(ctx context.Context, userID int64, convIDs []int64) (map[int64]int, error) {
	if len(convIDs) == 0 {
		return map[int64]int{}, nil
	}

	pipe := c.redisClient.Pipeline()
	cmds := make([]*redis.StringCmd, len(convIDs))
	for i, convID := range convIDs {
		cmds[i] = pipe.HGet(ctx, convKey(userID, convID), "unread_count")
	}

	// 缺失的 key 返回 redis.Nil，按 0 处理
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	counts := make(map[int64]int, len(convIDs))
	for i, cmd := range cmds {
		count, err := cmd.Int64()
		if err != nil {
			counts[convIDs[i]] = 0
			continue
		}
		counts[convIDs[i]] = int(count)
	}
	return counts, nil
}

// Total 用户所有会话的未读总数（全局角标）
func (c *Counter) Total(ctx context.Context, userID int64) (int64, error) {
	members, err := c.redisClient.ZRange(ctx, indexKey(userID), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	pipe := c.redisClient.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	for i, m := range members {
		convID, _ := strconv.ParseInt(m, 10, 64)
		cmds[i] = pipe.HGet(ctx, convKey(userID, convID), "unread_count")
	}
	_, _ = pipe.Exec(ctx)

	var total int64
	for _, cmd := range cmds {
		count, err := cmd.Int64()
		if err == nil {
			total += count
		}
	}
	return total, nil
}
