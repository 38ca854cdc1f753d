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

// ConversationRepository 会话仓库
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Exists 会话是否存在
func (r *ConversationRepository) Exists(ctx context.Context, convID int64) (bool, error) {
	query := `SELECT 1 FROM conversations WHERE id = $1`

	var one int
	err := r.db.QueryRow(ctx, query, convID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsParticipant 用户是否为会话成员
func (r *ConversationRepository) IsParticipant(ctx context.Context, convID, userID int64) (bool, error) {
	query := `SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2`

	var one int
	err := r.db.QueryRow(ctx, query, convID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindParticipant 查找会话成员（用于能力判定）
// 非成员返回 (nil, nil)
func (r *ConversationRepository) FindParticipant(ctx context.Context, convID, userID int64) (*model.Participant, error) {
	query := `
		SELECT conversation_id, user_id, role, joined_at
		FROM participants WHERE conversation_id = $1 AND user_id = $2
	`

	var p model.Participant
	err := r.db.QueryRow(ctx, query, convID, userID).Scan(&p.ConversationId, &p.UserId, &p.Role, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ParticipantIDs 获取会话所有成员 ID
func (r *ConversationRepository) ParticipantIDs(ctx context.Context, convID int64) ([]int64, error) {
	query := `SELECT user_id FROM participants WHERE conversation_id = $1`

	rows, err := r.db.Query(ctx, query, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddParticipant 追加会话成员
// 成员集合只增不减；重复追加是 no-op
func (r *ConversationRepository) AddParticipant(ctx context.Context, p *model.Participant) error {
	query := `
		INSERT INTO participants (conversation_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, p.ConversationId, p.UserId, p.Role, p.JoinedAt)
	return err
}

// ContactIDs 获取与该用户共享至少一个会话的用户集合（去重，不含自己）
func (r *ConversationRepository) ContactIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT other.user_id
		FROM participants own
		JOIN participants other ON other.conversation_id = own.conversation_id
		WHERE own.user_id = $1 AND other.user_id <> $1
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TouchLastMessage 推进会话的最近消息时间（会话列表排序键）
func (r *ConversationRepository) TouchLastMessage(ctx context.Context, convID int64, at time.Time) error {
	query := `UPDATE conversations SET last_message_at = $2 WHERE id = $1 AND last_message_at < $2`
	_, err := r.db.Exec(ctx, query, convID, at)
	return err
}

// PageByUser 按键集游标取用户的一页会话
// 排序键 (last_message_at, id) 降序，与消息分页共用同一游标格式
func (r *ConversationRepository) PageByUser(ctx context.Context, userID int64, cursor pagination.Cursor, limit int) ([]model.Conversation, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if cursor.Zero() {
		query := `
			SELECT c.id, c.created_at, c.last_message_at
			FROM conversations c
			JOIN participants p ON p.conversation_id = c.id
			WHERE p.user_id = $1
			ORDER BY c.last_message_at DESC, c.id DESC
			LIMIT $2
		`
		rows, err = r.db.Query(ctx, query, userID, limit)
	} else {
		query := `
			SELECT c.id, c.created_at, c.last_message_at
			FROM conversations c
			JOIN participants p ON p.conversation_id = c.id
			WHERE p.user_id = $1 AND (c.last_message_at, c.id) < ($2, $3)
			ORDER BY c.last_message_at DESC, c.id DESC
			LIMIT $4
		`
		rows, err = r.db.Query(ctx, query, userID, cursor.Time(), cursor.Id, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []model.Conversation
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(&conv.Id, &conv.CreatedAt, &conv.LastMessageAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachParticipants(ctx, conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// CountByUser 用户参与的会话总数
func (r *ConversationRepository) CountByUser(ctx context.Context, userID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM participants WHERE user_id = $1`

	var count int64
	err := r.db.QueryRow(ctx, query, userID).Scan(&count)
	return count, err
}

// attachParticipants 批量挂载成员集合
func (r *ConversationRepository) attachParticipants(ctx context.Context, conversations []model.Conversation) error {
	if len(conversations) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(conversations))
	byID := make(map[int64]*model.Conversation, len(conversations))
	for i := range conversations {
		ids = append(ids, conversations[i].Id)
		byID[conversations[i].Id] = &conversations[i]
	}

	query := `
		SELECT conversation_id, user_id, role, joined_at
		FROM participants
		WHERE conversation_id = ANY($1)
		ORDER BY joined_at
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ConversationId, &p.UserId, &p.Role, &p.JoinedAt); err != nil {
			return err
		}
		if conv, ok := byID[p.ConversationId]; ok {
			conv.Participants = append(conv.Participants, p)
		}
	}
	return rows.Err()
}
