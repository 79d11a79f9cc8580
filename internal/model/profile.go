package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Profile はIdPで認証されたユーザーのローカルなプロフィールを表す。
// 初回サインイン時に作成され、ロールはこのコードベースの外（SQL等）でのみ変更される。
type Profile struct {
	ID          string
	Email       string
	DisplayName string // 空文字列は未設定
	Role        Role
	CreatedAt   time.Time // ゼロ値は未設定
}

// Label はUI表示用の名前を返す。表示名がなければメールアドレスを返す。
func (p *Profile) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}

// Validate はプロフィールがスキーマに適合するかを検証する。
// 不正な場合は ErrSchemaMismatch をラップしたエラーを返す。
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: profile is nil", ErrSchemaMismatch)
	}
	if _, err := uuid.Parse(p.ID); err != nil {
		return fmt.Errorf("%w: invalid profile id %q", ErrSchemaMismatch, p.ID)
	}
	if err := ValidateEmail(p.Email); err != nil {
		return err
	}
	if p.DisplayName != "" && strings.TrimSpace(p.DisplayName) == "" {
		return fmt.Errorf("%w: display name must not be blank", ErrSchemaMismatch)
	}
	return validateRole(p.Role)
}

// ProfileRecord はprofilesテーブルの1行をそのまま表す。
// roleは検証前の生の値を保持する。
type ProfileRecord struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

// ToProfile はレコードをロール検証なしでProfileに変換する。
// 不明なロールは ParseRole により member に倒される。
func (r *ProfileRecord) ToProfile() *Profile {
	return &Profile{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Role:        ParseRole(r.Role),
		CreatedAt:   r.CreatedAt,
	}
}

// ToStrictProfile はレコードをスキーマ検証付きでProfileに変換する。
// 不明なロールを含めて不正な値があればエラーを返す。
func (r *ProfileRecord) ToStrictProfile() (*Profile, error) {
	p := &Profile{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Role:        Role(r.Role),
		CreatedAt:   r.CreatedAt,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidateEmail はメールアドレスの形式を検証する。
// 表示名付きの形式（"Name <a@b>"）は受け付けない。
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fmt.Errorf("%w: invalid email %q", ErrSchemaMismatch, email)
	}
	return nil
}

// ValidateDomainEmail はメールアドレスが許可ドメインのアカウントかを検証する。
// 比較は大文字小文字を区別しない。
func ValidateDomainEmail(email, allowedDomain string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	domain := strings.ToLower(allowedDomain)
	if !strings.HasSuffix(strings.ToLower(email), "@"+domain) {
		return fmt.Errorf("only %s accounts are allowed", domain)
	}
	return nil
}

// HasAllowedDomain はメールアドレスが許可ドメインに属するかを返す。
// ゲートでの判定に使う簡易版で、形式の検証は行わない。
func HasAllowedDomain(email, allowedDomain string) bool {
	return strings.HasSuffix(strings.ToLower(email), "@"+strings.ToLower(allowedDomain))
}

// DeriveDisplayName はIdPのクレームから表示名を決める。
// フルネーム、名（given name）、メールアドレスの順に最初の空でない値を使う。
func DeriveDisplayName(fullName, givenName, email string) string {
	for _, v := range []string{fullName, givenName, email} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
