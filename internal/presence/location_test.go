package presence

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
		DB:   14, // 使用测试专用数据库
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("跳过测试：无法连接 Redis: %v", err)
	}

	client.FlushDB(ctx)
	return client
}

func TestLocationStore_LeaseLifecycle(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	req := require.New(t)
	store := NewLocationStore(client, "sync-1")
	ctx := context.Background()

	online, err := store.IsOnline(ctx, 1001)
	req.NoError(err)
	req.False(online)

	req.NoError(store.Register(ctx, 1001, 1, "web"))
	req.NoError(store.Register(ctx, 1001, 2, "ios"))

	// 任一节点持有通道即视为在线
	online, err = store.IsOnline(ctx, 1001)
	req.NoError(err)
	req.True(online)

	locations, err := store.Locations(ctx, 1001)
	req.NoError(err)
	req.Len(locations, 2)
	for _, loc := range locations {
		req.Equal(int64(1001), loc.UserId)
		req.Equal("sync-1", loc.NodeId)
	}

	req.NoError(store.Refresh(ctx, 1001, 1))

	req.NoError(store.Unregister(ctx, 1001, 1))
	req.NoError(store.Unregister(ctx, 1001, 2))

	online, err = store.IsOnline(ctx, 1001)
	req.NoError(err)
	req.False(online)
}

func TestLocationStore_IsOnlineIsolatedPerUser(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	req := require.New(t)
	store := NewLocationStore(client, "sync-1")
	ctx := context.Background()

	req.NoError(store.Register(ctx, 2001, 1, "web"))

	online, err := store.IsOnline(ctx, 2002)
	req.NoError(err)
	req.False(online)
}
