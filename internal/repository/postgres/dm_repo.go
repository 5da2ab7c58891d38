package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tajnachat/tajna/internal/domain"
	"github.com/tajnachat/tajna/internal/repository"
)

type DMRepo struct {
	pool *pgxpool.Pool
}

func NewDMRepo(pool *pgxpool.Pool) *DMRepo {
	return &DMRepo{pool: pool}
}

func (r *DMRepo) CreateConversation(ctx context.Context, c *domain.DMConversation) error {
	query := `
		INSERT INTO dm_conversations (id, user1_id, user2_id, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, c.ID, c.User1ID, c.User2ID, c.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicateConversation
	}
	return err
}

func (r *DMRepo) GetConversationByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.DMConversation, error) {
	query := `SELECT id, user1_id, user2_id, created_at
		FROM dm_conversations
		WHERE user1_id = $1 AND user2_id = $2`

	var c domain.DMConversation
	err := r.pool.QueryRow(ctx, query, user1ID, user2ID).Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *DMRepo) GetConversationByID(ctx context.Context, id uuid.UUID) (*domain.DMConversation, error) {
	query := `SELECT id, user1_id, user2_id, created_at
		FROM dm_conversations
		WHERE id = $1`

	var c domain.DMConversation
	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *DMRepo) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.DMConversation, error) {
	query := `
		SELECT c.id, c.user1_id, c.user2_id, c.created_at,
		       u.id, u.username
		FROM dm_conversations c
		INNER JOIN users u ON u.id = CASE WHEN c.user1_id = $1 THEN c.user2_id ELSE c.user1_id END
		WHERE c.user1_id = $1 OR c.user2_id = $1
		ORDER BY c.created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []domain.DMConversation
	for rows.Next() {
		var c domain.DMConversation
		if err := rows.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt,
			&c.OtherUserID, &c.OtherUserUsername); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (r *DMRepo) CreateMessage(ctx context.Context, m *domain.DMMessage) error {
	query := `
		INSERT INTO dm_messages (id, conversation_id, sender_id, recipient_id,
			ciphertext, iv, auth_tag, wrapped_key_sender, wrapped_key_recipient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		m.ID, m.ConversationID, m.SenderID, m.RecipientID,
		m.Ciphertext, m.IV, m.AuthTag, m.WrappedKeySender, m.WrappedKeyRecipient, m.CreatedAt,
	)
	return err
}

func (r *DMRepo) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]domain.DMMessage, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.recipient_id,
		       m.ciphertext, m.iv, m.auth_tag, m.wrapped_key_sender, m.wrapped_key_recipient, m.created_at,
		       u.username
		FROM dm_messages m
		INNER JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.DMMessage
	for rows.Next() {
		var m domain.DMMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID,
			&m.Ciphertext, &m.IV, &m.AuthTag, &m.WrappedKeySender, &m.WrappedKeyRecipient,
			&m.CreatedAt, &m.SenderUsername); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
