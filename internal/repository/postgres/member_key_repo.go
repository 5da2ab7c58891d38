package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tajnachat/tajna/internal/domain"
	"github.com/tajnachat/tajna/internal/repository"
)

type MemberKeyRepo struct {
	pool *pgxpool.Pool
}

func NewMemberKeyRepo(pool *pgxpool.Pool) *MemberKeyRepo {
	return &MemberKeyRepo{pool: pool}
}

// Put inserts a live record. The record's key version is read from the group
// row under a share lock in the same transaction, so an insert can never race
// a rotation commit into a stale version.
func (r *MemberKeyRepo) Put(ctx context.Context, mk *domain.MemberKey) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx,
		`SELECT key_version FROM groups WHERE id = $1 FOR SHARE`, mk.GroupID,
	).Scan(&version)
	if err != nil {
		return err
	}
	mk.KeyVersion = version

	query := `
		INSERT INTO group_members (group_id, user_id, wrapped_key, key_version, role, state, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.Exec(ctx, query,
		mk.GroupID, mk.UserID, mk.WrappedKey, mk.KeyVersion, mk.Role, mk.State, mk.JoinedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicateActiveMember
	}
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *MemberKeyRepo) Get(ctx context.Context, groupID, userID uuid.UUID) (*domain.MemberKey, error) {
	query := `SELECT group_id, user_id, wrapped_key, key_version, role, state, joined_at, left_at
		FROM group_members
		WHERE group_id = $1 AND user_id = $2 AND state != 'inactive'`

	var m domain.MemberKey
	err := r.pool.QueryRow(ctx, query, groupID, userID).Scan(
		&m.GroupID, &m.UserID, &m.WrappedKey, &m.KeyVersion, &m.Role, &m.State, &m.JoinedAt, &m.LeftAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MemberKeyRepo) ListLive(ctx context.Context, groupID uuid.UUID) ([]domain.MemberKey, error) {
	query := `
		SELECT gm.group_id, gm.user_id, gm.wrapped_key, gm.key_version, gm.role, gm.state, gm.joined_at, gm.left_at,
		       u.username, u.display_name
		FROM group_members gm
		INNER JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = $1 AND gm.state != 'inactive'
		ORDER BY gm.joined_at`

	rows, err := r.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.MemberKey
	for rows.Next() {
		var m domain.MemberKey
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.WrappedKey, &m.KeyVersion, &m.Role, &m.State,
			&m.JoinedAt, &m.LeftAt, &m.Username, &m.DisplayName); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *MemberKeyRepo) CountLive(ctx context.Context, groupID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND state != 'inactive'`, groupID,
	).Scan(&n)
	return n, err
}

func (r *MemberKeyRepo) Activate(ctx context.Context, groupID, userID uuid.UUID) error {
	query := `UPDATE group_members SET state = 'active', joined_at = $3
		WHERE group_id = $1 AND user_id = $2 AND state = 'invited'`
	_, err := r.pool.Exec(ctx, query, groupID, userID, time.Now())
	return err
}

// UpdateKey stamps the record with the version read under the same share
// lock Put takes, so a grant can never land at a version a concurrent
// rotation already abandoned.
func (r *MemberKeyRepo) UpdateKey(ctx context.Context, groupID, userID uuid.UUID, wrappedKey []byte) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx,
		`SELECT key_version FROM groups WHERE id = $1 FOR SHARE`, groupID,
	).Scan(&version)
	if err != nil {
		return 0, err
	}

	query := `UPDATE group_members SET wrapped_key = $3, key_version = $4
		WHERE group_id = $1 AND user_id = $2 AND state != 'inactive'`
	if _, err := tx.Exec(ctx, query, groupID, userID, wrappedKey, version); err != nil {
		return 0, err
	}

	return version, tx.Commit(ctx)
}

func (r *MemberKeyRepo) Deactivate(ctx context.Context, groupID, userID uuid.UUID) error {
	// Idempotent: a second call matches no rows and succeeds
	query := `UPDATE group_members SET state = 'inactive', left_at = $3
		WHERE group_id = $1 AND user_id = $2 AND state != 'inactive'`
	_, err := r.pool.Exec(ctx, query, groupID, userID, time.Now())
	return err
}

// CommitRotation is the commit point of a key rotation. All three effects -
// departing member deactivated, remaining members rekeyed, group version
// bumped - land in one transaction or not at all. The version bump doubles as
// an optimistic lock: if another rotation advanced the version first, nothing
// is applied and callers get ErrVersionConflict.
func (r *MemberKeyRepo) CommitRotation(ctx context.Context, groupID, departingID uuid.UUID, expectedVersion int, keys map[uuid.UUID][]byte) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	// CAS on the version; also takes the row lock that Put's FOR SHARE
	// serializes against
	ct, err := tx.Exec(ctx,
		`UPDATE groups SET key_version = key_version + 1, updated_at = $3 WHERE id = $1 AND key_version = $2`,
		groupID, expectedVersion, now,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrVersionConflict
	}
	newVersion := expectedVersion + 1

	_, err = tx.Exec(ctx,
		`UPDATE group_members SET state = 'inactive', left_at = $3
		 WHERE group_id = $1 AND user_id = $2 AND state != 'inactive'`,
		groupID, departingID, now,
	)
	if err != nil {
		return err
	}

	// The submitted key set must cover the live membership exactly. A
	// mismatch means the initiator worked from a stale roster; that is the
	// same retry case as losing the CAS.
	rows, err := tx.Query(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1 AND state != 'inactive'`, groupID)
	if err != nil {
		return err
	}
	remaining := make([]uuid.UUID, 0, len(keys))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		remaining = append(remaining, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(remaining) != len(keys) {
		return repository.ErrVersionConflict
	}
	for _, id := range remaining {
		if _, ok := keys[id]; !ok {
			return repository.ErrVersionConflict
		}
	}

	for userID, wrapped := range keys {
		_, err = tx.Exec(ctx,
			`UPDATE group_members SET wrapped_key = $3, key_version = $4
			 WHERE group_id = $1 AND user_id = $2 AND state != 'inactive'`,
			groupID, userID, wrapped, newVersion,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
