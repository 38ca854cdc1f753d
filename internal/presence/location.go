package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.im.sync/internal/model"
)

const (
	// 通道位置 TTL: 2 分钟，心跳续期
	// 节点崩溃后租约自然过期，无需显式清理
	locationTTL = 2 * time.Minute

	locationKeyPrefix = "sync:user:location:"
)

func locationKey(userID, channelID int64) string {
	return fmt.Sprintf("%s%d:%d", locationKeyPrefix, userID, channelID)
}

func locationPattern(userID int64) string {
	return fmt.Sprintf("%s%d:*", locationKeyPrefix, userID)
}

// LocationStore 通道位置存储
// 记录每条通道落在哪个节点，供跨节点路由判断用户是否在线
type LocationStore struct {
	client *redis.Client
	nodeID string
	logger *slog.Logger
}

// NewLocationStore 创建通道位置存储
func NewLocationStore(client *redis.Client, nodeID string) *LocationStore {
	return &LocationStore{
		client: client,
		nodeID: nodeID,
		logger: slog.Default(),
	}
}

// Register 注册通道位置
// Key: sync:user:location:{userId}:{channelId}, Value: JSON{nodeId, platform, loginTime}
func (s *LocationStore) Register(ctx context.Context, userID, channelID int64, platform string) error {
	location := model.ChannelLocation{
		UserId:    userID,
		NodeId:    s.nodeID,
		ChannelId: channelID,
		Platform:  platform,
		LoginTime: time.Now(),
	}

	data, err := json.Marshal(location)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	key := locationKey(userID, channelID)
	if err := s.client.Set(ctx, key, data, locationTTL).Err(); err != nil {
		return err
	}

	s.logger.Debug("Registered channel location",
		"userId", userID,
		"channelId", channelID,
		"nodeId", s.nodeID)
	return nil
}

// Unregister 移除通道位置
func (s *LocationStore) Unregister(ctx context.Context, userID, channelID int64) error {
	return s.client.Del(ctx, locationKey(userID, channelID)).Err()
}

// Refresh 刷新通道位置 TTL（心跳时调用）
func (s *LocationStore) Refresh(ctx context.Context, userID, channelID int64) error {
	return s.client.Expire(ctx, locationKey(userID, channelID), locationTTL).Err()
}

// Locations 获取用户所有在线通道的位置
func (s *LocationStore) Locations(ctx context.Context, userID int64) ([]model.ChannelLocation, error) {
	var locations []model.ChannelLocation

	iter := s.client.Scan(ctx, 0, locationPattern(userID), 64).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue // 扫描与读取之间租约过期
		}
		if err != nil {
			return nil, err
		}

		var location model.ChannelLocation
		if err := json.Unmarshal([]byte(data), &location); err != nil {
			s.logger.Warn("Skipping malformed location entry", "key", iter.Val(), "error", err)
			continue
		}
		locations = append(locations, location)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return locations, nil
}

// IsOnline 用户是否持有至少一条在线通道
func (s *LocationStore) IsOnline(ctx context.Context, userID int64) (bool, error) {
	iter := s.client.Scan(ctx, 0, locationPattern(userID), 1).Iterator()
	if iter.Next(ctx) {
		return true, nil
	}
	return false, iter.Err()
}
