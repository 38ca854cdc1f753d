package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const probeTimeout = 2 * time.Second

const (
	statusConnected    = "connected"
	statusDisconnected = "disconnected"
)

// Dependency 单个依赖的探测结果
type Dependency struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Report 一次健康检查的聚合结果
// 任一依赖断开即不健康；进程继续服务已建立的通道，只从就绪集合摘除
type Report struct {
	Healthy   bool         `json:"healthy"`
	CheckedAt time.Time    `json:"checkedAt"`
	Deps      []Dependency `json:"deps"`
}

// Checker 探测引擎的三个后端依赖：
// NATS 承载跨节点广播，Redis 承载位置与未读计数，PostgreSQL 是事实来源
type Checker struct {
	nc          *nats.Conn
	redisClient *redis.Client
	db          *pgxpool.Pool
}

// NewChecker 创建健康检查器
func NewChecker(nc *nats.Conn, redisClient *redis.Client, db *pgxpool.Pool) *Checker {
	return &Checker{
		nc:          nc,
		redisClient: redisClient,
		db:          db,
	}
}

// Check 逐个探测依赖并聚合
func (h *Checker) Check(ctx context.Context) Report {
	report := Report{
		Healthy:   true,
		CheckedAt: time.Now(),
	}

	probes := []struct {
		name  string
		probe func(context.Context) error
	}{
		{"nats", h.probeNATS},
		{"redis", h.probeRedis},
		{"database", h.probeDatabase},
	}

	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.probe(probeCtx)
		cancel()

		status := statusConnected
		if err != nil {
			status = statusDisconnected
			report.Healthy = false
		}
		report.Deps = append(report.Deps, Dependency{Name: p.name, Status: status})
	}
	return report
}

func (h *Checker) probeNATS(context.Context) error {
	if !h.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

func (h *Checker) probeRedis(ctx context.Context) error {
	return h.redisClient.Ping(ctx).Err()
}

func (h *Checker) probeDatabase(ctx context.Context) error {
	return h.db.Ping(ctx)
}

// IsHealthy 所有依赖均连通
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Healthy
}

// ServeHTTP 健康检查端点，依赖断开时返回 503
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !report.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(report)
}
