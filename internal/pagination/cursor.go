package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/model"
)

// PageSize 固定分页大小，客户端与服务端共享
const PageSize = 20

// Cursor 不透明分页游标在解码后的形式
// 标记稳定排序键 (createdAt 微秒, id) 上的一个位置；向更早方向翻页时
// 取该位置之前（降序）的记录，尾部新增的记录不会移动已取出的页
// 微秒与 timestamptz 的存储精度一致，游标与库内时间戳之间无精度损失
type Cursor struct {
	At int64 // createdAt，Unix 微秒
	Id int64
}

// Zero 是否为空游标（从最新位置开始）
func (c Cursor) Zero() bool {
	return c.At == 0 && c.Id == 0
}

// Time 游标时间分量
func (c Cursor) Time() time.Time {
	return time.UnixMicro(c.At)
}

// Encode 序列化为不透明字符串
func Encode(c Cursor) string {
	raw := fmt.Sprintf("%d:%d", c.At, c.Id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode 解析游标，空字符串表示从最新位置开始
func Decode(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, apperrors.ErrInvalidCursor.Wrap(err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return Cursor{}, apperrors.ErrInvalidCursor
	}
	at, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, apperrors.ErrInvalidCursor.Wrap(err)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, apperrors.ErrInvalidCursor.Wrap(err)
	}
	return Cursor{At: at, Id: id}, nil
}

// FromMessage 取消息的排序键作为下一页游标
func FromMessage(m *model.Message) Cursor {
	return Cursor{At: m.CreatedAt.UnixMicro(), Id: m.Id}
}

// FromConversation 取会话的排序键作为下一页游标
func FromConversation(c *model.Conversation) Cursor {
	return Cursor{At: c.LastMessageAt.UnixMicro(), Id: c.Id}
}

// Before 判断排序键 (at, id) 是否严格位于游标之前（降序翻页方向）
func (c Cursor) Before(at int64, id int64) bool {
	if at != c.At {
		return at < c.At
	}
	return id < c.Id
}
