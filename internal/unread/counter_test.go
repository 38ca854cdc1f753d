package unread

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// 注意：这些测试需要一个运行中的 Redis 实例
// 如果没有 Redis，测试将被跳过

func getTestRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 使用测试专用数据库
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("跳过测试：无法连接 Redis: %v", err)
	}

	// 清理测试数据库
	client.FlushDB(ctx)

	return client
}

func TestCounter_BumpAndCounts(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	req := require.New(t)
	counter := NewCounter(client)
	ctx := context.Background()

	members := []int64{1001, 1002, 1003}
	sender := int64(1001)
	convID := int64(5001)

	req.NoError(counter.Bump(ctx, members, sender, convID, 9001))
	req.NoError(counter.Bump(ctx, members, sender, convID, 9002))

	counts, err := counter.Counts(ctx, 1002, []int64{convID})
	req.NoError(err)
	req.Equal(2, counts[convID])

	// 发送者自己的未读数不增加
	counts, err = counter.Counts(ctx, 1001, []int64{convID})
	req.NoError(err)
	req.Equal(0, counts[convID])

	// 每个成员的会话索引被推进
	members1002, err := client.ZRange(ctx, "sync:conv:index:1002", 0, -1).Result()
	req.NoError(err)
	req.Equal([]string{"5001"}, members1002)
}

func TestCounter_Clear(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	req := require.New(t)
	counter := NewCounter(client)
	ctx := context.Background()

	convID := int64(5001)
	req.NoError(counter.Bump(ctx, []int64{1001, 1002}, 1001, convID, 9001))

	req.NoError(counter.Clear(ctx, 1002, convID, 9001))

	counts, err := counter.Counts(ctx, 1002, []int64{convID})
	req.NoError(err)
	req.Equal(0, counts[convID])

	lastRead, err := client.HGet(ctx, "sync:conv:1002:5001", "last_read_msg_id").Int64()
	req.NoError(err)
	req.Equal(int64(9001), lastRead)
}

func TestCounter_CountsMissingConversation(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	req := require.New(t)
	counter := NewCounter(client)
	ctx := context.Background()

	// 从未有过消息的会话按 0 处理
	counts, err := counter.Counts(ctx, 1002, []int64{7777})
	req.NoError(err)
	req.Equal(0, counts[7777])
}

func TestCounter_Total(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	req := require.New(t)
	counter := NewCounter(client)
	ctx := context.Background()

	req.NoError(counter.Bump(ctx, []int64{1001, 1002}, 1001, 5001, 9001))
	req.NoError(counter.Bump(ctx, []int64{1001, 1002}, 1001, 5002, 9002))
	req.NoError(counter.Bump(ctx, []int64{1001, 1002}, 1001, 5002, 9003))

	total, err := counter.Total(ctx, 1002)
	req.NoError(err)
	req.Equal(int64(3), total)

	total, err = counter.Total(ctx, 1001)
	req.NoError(err)
	req.Equal(int64(0), total)
}
