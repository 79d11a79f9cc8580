package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ecomlabs/toolsportal/internal/model"
)

// PostgresIdentityRepo はIdPのアカウントとプロフィールの対応を引くリポジトリ。
// 書き込みはPostgresProfileRepo.UpsertWithIdentityがプロフィールと同じトランザクションで行う。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID は (provider, IdPのsub) に対応するidentityを返す。
// providerは小文字で比較する。紐づくプロフィールが既に削除されている場合や
// 対応がない場合はnil, nilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var identity model.Identity
	err := r.db.QueryRowContext(ctx,
		`SELECT i.id, i.profile_id, i.provider, i.provider_user_id, i.created_at
		   FROM identities i
		   JOIN profiles p ON p.id = i.profile_id
		  WHERE i.provider = $1 AND i.provider_user_id = $2`,
		strings.ToLower(provider), providerUserID,
	).Scan(&identity.ID, &identity.ProfileID, &identity.Provider, &identity.ProviderUserID, &identity.CreatedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to find identity for %s: %w", provider, err)
	}
	return &identity, nil
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
