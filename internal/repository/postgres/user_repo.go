package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tajnachat/tajna/internal/domain"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, email, username, display_name, password_hash, public_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		u.ID, u.Email, u.Username, u.DisplayName, u.PasswordHash, u.PublicKey, u.Status, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT id, email, username, display_name, password_hash, public_key, avatar_url, status, created_at, updated_at
		FROM users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT id, email, username, display_name, password_hash, public_key, avatar_url, status, created_at, updated_at
		FROM users WHERE email = $1`
	return r.scanUser(ctx, query, email)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT id, email, username, display_name, password_hash, public_key, avatar_url, status, created_at, updated_at
		FROM users WHERE username = $1`
	return r.scanUser(ctx, query, username)
}

func (r *UserRepo) UpdatePublicKey(ctx context.Context, id uuid.UUID, publicKey []byte) error {
	query := `UPDATE users SET public_key = $1, updated_at = $2 WHERE id = $3`
	_, err := r.pool.Exec(ctx, query, publicKey, time.Now(), id)
	return err
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.PasswordHash,
		&u.PublicKey, &u.AvatarURL, &u.Status, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
