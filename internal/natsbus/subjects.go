package natsbus

// NATS Subject 常量定义
const (
	// SubjectEventBroadcast 所有同步节点订阅的事件广播主题
	// 每个节点收到信封后只向本地注册的通道投递
	SubjectEventBroadcast = "sync.events.broadcast"
)
