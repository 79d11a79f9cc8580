// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ecomlabs/toolsportal/internal/model"
)

// ErrIdentityConflict は同じprovider・provider_user_idのidentityが既に存在することを示す。
// 同じアカウントの初回サインインが並行した場合に発生する。
var ErrIdentityConflict = errors.New("identity already exists")

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	// roleは検証前の生の値のまま返す。
	FindByID(ctx context.Context, id string) (*model.ProfileRecord, error)

	// CreateIfAbsent はプロフィールが存在しない場合のみ作成する。
	// 作成した場合はtrueを返す。既存レコードは変更しない。
	CreateIfAbsent(ctx context.Context, profile *model.ProfileRecord) (bool, error)

	// Upsert はIDをキーにプロフィールを作成または更新し、保存後の値を返す。
	// 更新時はemailとdisplay_nameのみを上書きし、roleは保持する。
	Upsert(ctx context.Context, profile *model.ProfileRecord) (*model.ProfileRecord, error)

	// UpsertWithIdentity はプロフィールのUpsertとidentityの作成を同一トランザクションで行う。
	// identityが既に存在する場合は何も作成せず ErrIdentityConflict を返す。
	UpsertWithIdentity(ctx context.Context, profile *model.ProfileRecord, identity *model.Identity) (*model.ProfileRecord, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend はセッションの有効期限を延長する。
	Extend(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定プロフィールの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
