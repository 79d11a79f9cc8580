package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ecomlabs/toolsportal/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const profileColumns = `id, email, COALESCE(display_name, ''), role, created_at`

const upsertProfileSQL = `INSERT INTO profiles (id, email, display_name, role)
	 VALUES ($1, $2, NULLIF($3, ''), $4)
	 ON CONFLICT (id) DO UPDATE
	   SET email = EXCLUDED.email,
	       display_name = EXCLUDED.display_name
	 RETURNING ` + profileColumns

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.ProfileRecord, error) {
	rec := &model.ProfileRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.Email, &rec.DisplayName, &rec.Role, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}

	return rec, nil
}

// CreateIfAbsent はプロフィールが存在しない場合のみ作成する。
func (r *PostgresProfileRepo) CreateIfAbsent(ctx context.Context, profile *model.ProfileRecord) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, display_name, role)
		 VALUES ($1, $2, NULLIF($3, ''), $4)
		 ON CONFLICT (id) DO NOTHING`,
		profile.ID, profile.Email, profile.DisplayName, profile.Role,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Upsert はIDをキーにプロフィールを作成または更新する。
// 既存レコードのroleは変更しない。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.ProfileRecord) (*model.ProfileRecord, error) {
	rec := &model.ProfileRecord{}
	err := r.db.QueryRowContext(ctx, upsertProfileSQL,
		profile.ID, profile.Email, profile.DisplayName, profile.Role,
	).Scan(&rec.ID, &rec.Email, &rec.DisplayName, &rec.Role, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return rec, nil
}

// UpsertWithIdentity はプロフィールとidentityを同一トランザクションで作成する。
// 同じprovider_user_idのidentityが先に作成されていた場合はロールバックし、ErrIdentityConflictを返す。
func (r *PostgresProfileRepo) UpsertWithIdentity(ctx context.Context, profile *model.ProfileRecord, identity *model.Identity) (*model.ProfileRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// プロフィールを作成
	rec := &model.ProfileRecord{}
	err = tx.QueryRowContext(ctx, upsertProfileSQL,
		profile.ID, profile.Email, profile.DisplayName, profile.Role,
	).Scan(&rec.ID, &rec.Email, &rec.DisplayName, &rec.Role, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}

	// identityを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, profile_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.ProfileID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %v", ErrIdentityConflict, err)
		}
		return nil, fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return rec, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
