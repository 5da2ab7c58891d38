package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tajnachat/tajna/internal/domain"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	query := `
		INSERT INTO messages (id, group_id, sender_id, ciphertext, iv, auth_tag, key_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		m.ID, m.GroupID, m.SenderID, m.Ciphertext, m.IV, m.AuthTag, m.KeyVersion, m.CreatedAt,
	)
	return err
}

func (r *MessageRepo) ListRecent(ctx context.Context, groupID uuid.UUID, limit int) ([]domain.Message, error) {
	query := `
		SELECT m.id, m.group_id, m.sender_id, m.ciphertext, m.iv, m.auth_tag, m.key_version, m.created_at,
		       u.username
		FROM messages m
		INNER JOIN users u ON u.id = m.sender_id
		WHERE m.group_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.Ciphertext, &m.IV, &m.AuthTag,
			&m.KeyVersion, &m.CreatedAt, &m.SenderUsername); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
