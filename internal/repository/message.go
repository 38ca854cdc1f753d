package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.sync/internal/model"
	"sudooom.im.sync/internal/pagination"
)

// MessageRepository 消息仓库
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create 创建消息
// ID 由调用方预先生成（雪花 ID），落库前事件不会进入任何分发路径
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, msg_type, reply_to_id, edited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.Content,
		msg.MsgType,
		msg.ReplyToId,
		msg.Edited,
		msg.CreatedAt,
	)
	return err
}

// FindByID 根据 ID 查找消息（含回执与表情回应）
// 消息不存在时返回 (nil, nil)
func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, msg_type, reply_to_id, edited, created_at, delivered_at, deleted_at
		FROM messages WHERE id = $1
	`

	var msg model.Message
	err := r.db.QueryRow(ctx, query, id).Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.Content,
		&msg.MsgType,
		&msg.ReplyToId,
		&msg.Edited,
		&msg.CreatedAt,
		&msg.DeliveredAt,
		&msg.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.attachDetails(ctx, []*model.Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkDelivered 标记消息已送达
// 只有首个回执触发转换，返回本次是否发生了转换
func (r *MessageRepository) MarkDelivered(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `UPDATE messages SET delivered_at = $2 WHERE id = $1 AND delivered_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// InsertReceipt 写入已读回执
// (message_id, user_id) 上的重复写入是 no-op，返回本次是否真正插入
func (r *MessageRepository) InsertReceipt(ctx context.Context, receipt *model.ReadReceipt) (bool, error) {
	query := `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, receipt.MessageId, receipt.UserId, receipt.ReadAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertReaction 写入表情回应，同一 (message_id, user_id) 保留最后一次写入
func (r *MessageRepository) UpsertReaction(ctx context.Context, reaction *model.Reaction) error {
	query := `
		INSERT INTO reactions (message_id, user_id, emoji, reacted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id) DO UPDATE SET emoji = EXCLUDED.emoji, reacted_at = EXCLUDED.reacted_at
	`

	_, err := r.db.Exec(ctx, query, reaction.MessageId, reaction.UserId, reaction.Emoji, reaction.ReactedAt)
	return err
}

// UpdateContent 更新消息内容并标记为已编辑
func (r *MessageRepository) UpdateContent(ctx context.Context, id int64, content string) error {
	query := `UPDATE messages SET content = $2, edited = true WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, content)
	return err
}

// SoftDelete 软删除消息
// 行保留在分页结果中，内容在读取边界置空
func (r *MessageRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE messages SET deleted_at = $2, content = '' WHERE id = $1 AND deleted_at IS NULL`
	_, err := r.db.Exec(ctx, query, id, at)
	return err
}

// PageByConversation 按键集游标向历史方向取一页消息
// 排序键 (created_at, id) 降序；已删除消息保留行但内容置空
func (r *MessageRepository) PageByConversation(ctx context.Context, convID int64, cursor pagination.Cursor, limit int) ([]model.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if cursor.Zero() {
		query := `
			SELECT id, conversation_id, sender_id, content, msg_type, reply_to_id, edited, created_at, delivered_at, deleted_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`
		rows, err = r.db.Query(ctx, query, convID, limit)
	} else {
		query := `
			SELECT id, conversation_id, sender_id, content, msg_type, reply_to_id, edited, created_at, delivered_at, deleted_at
			FROM messages
			WHERE conversation_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`
		rows, err = r.db.Query(ctx, query, convID, cursor.Time(), cursor.Id, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.Content,
			&msg.MsgType,
			&msg.ReplyToId,
			&msg.Edited,
			&msg.CreatedAt,
			&msg.DeliveredAt,
			&msg.DeletedAt,
		); err != nil {
			return nil, err
		}
		if msg.Deleted() {
			msg.Content = ""
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*model.Message, len(messages))
	for i := range messages {
		ptrs[i] = &messages[i]
	}
	if err := r.attachDetails(ctx, ptrs); err != nil {
		return nil, err
	}
	return messages, nil
}

// attachDetails 批量挂载回执与表情回应
func (r *MessageRepository) attachDetails(ctx context.Context, messages []*model.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(messages))
	byID := make(map[int64]*model.Message, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.Id)
		byID[msg.Id] = msg
	}

	receiptQuery := `
		SELECT message_id, user_id, read_at
		FROM read_receipts
		WHERE message_id = ANY($1)
		ORDER BY read_at
	`
	rows, err := r.db.Query(ctx, receiptQuery, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var receipt model.ReadReceipt
		if err := rows.Scan(&receipt.MessageId, &receipt.UserId, &receipt.ReadAt); err != nil {
			rows.Close()
			return err
		}
		if msg, ok := byID[receipt.MessageId]; ok {
			msg.Receipts = append(msg.Receipts, receipt)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	reactionQuery := `
		SELECT message_id, user_id, emoji, reacted_at
		FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY reacted_at
	`
	rows, err = r.db.Query(ctx, reactionQuery, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var reaction model.Reaction
		if err := rows.Scan(&reaction.MessageId, &reaction.UserId, &reaction.Emoji, &reaction.ReactedAt); err != nil {
			return err
		}
		if msg, ok := byID[reaction.MessageId]; ok {
			msg.Reactions = append(msg.Reactions, reaction)
		}
	}
	return rows.Err()
}
