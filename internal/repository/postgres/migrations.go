package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the schema on startup. Plain idempotent DDL is enough at
// this size; a migration tool can take over once the schema starts churning.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			username VARCHAR(50) NOT NULL UNIQUE,
			display_name VARCHAR(100) NOT NULL,
			password_hash TEXT NOT NULL,
			public_key BYTEA,
			avatar_url TEXT,
			status VARCHAR(20) NOT NULL DEFAULT 'offline',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS groups (
			id UUID PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			description TEXT,
			avatar_url TEXT,
			owner_id UUID NOT NULL REFERENCES users(id),
			password_hash TEXT,
			key_version INTEGER NOT NULL DEFAULT 1,
			max_members INTEGER NOT NULL DEFAULT 500,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS group_members (
			group_id UUID NOT NULL REFERENCES groups(id),
			user_id UUID NOT NULL REFERENCES users(id),
			wrapped_key BYTEA,
			key_version INTEGER NOT NULL,
			role VARCHAR(10) NOT NULL DEFAULT 'member',
			state VARCHAR(10) NOT NULL DEFAULT 'active',
			joined_at TIMESTAMPTZ NOT NULL,
			left_at TIMESTAMPTZ
		)`,

		// At most one live record per (group, member); inactive rows stay
		// around as history
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_group_members_live
		ON group_members(group_id, user_id)
		WHERE state != 'inactive'`,

		`CREATE INDEX IF NOT EXISTS idx_group_members_user
		ON group_members(user_id, state)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			group_id UUID NOT NULL REFERENCES groups(id),
			sender_id UUID NOT NULL REFERENCES users(id),
			ciphertext BYTEA NOT NULL,
			iv BYTEA NOT NULL,
			auth_tag BYTEA NOT NULL,
			key_version INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_group
		ON messages(group_id, created_at DESC)`,

		// user1_id < user2_id lexically, enforced in the service; the unique
		// constraint then collapses both directions of a pair to one row
		`CREATE TABLE IF NOT EXISTS dm_conversations (
			id UUID PRIMARY KEY,
			user1_id UUID NOT NULL REFERENCES users(id),
			user2_id UUID NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user1_id, user2_id)
		)`,

		`CREATE TABLE IF NOT EXISTS dm_messages (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES dm_conversations(id),
			sender_id UUID NOT NULL REFERENCES users(id),
			recipient_id UUID NOT NULL REFERENCES users(id),
			ciphertext BYTEA NOT NULL,
			iv BYTEA NOT NULL,
			auth_tag BYTEA NOT NULL,
			wrapped_key_sender BYTEA NOT NULL,
			wrapped_key_recipient BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_dm_messages_conversation
		ON dm_messages(conversation_id, created_at DESC)`,
	}

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
