package model

import "time"

// PresenceStatus 在线状态
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceEntry 用户在线状态
// 每个用户任一时刻只有一个权威状态；由活跃通道推导，进程重启后重建，不持久化
type PresenceEntry struct {
	UserId     int64          `json:"userId"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt time.Time      `json:"lastSeenAt"`
}

// ChannelLocation 通道位置信息（用于跨节点消息路由）
type ChannelLocation struct {
	UserId    int64     `json:"userId"`
	NodeId    string    `json:"nodeId"`
	ChannelId int64     `json:"channelId"`
	Platform  string    `json:"platform"`
	LoginTime time.Time `json:"loginTime"`
}
