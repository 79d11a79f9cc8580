// Package model はドメインモデルを定義する。
package model

import "fmt"

// Role はプロフィールに割り当てられるロールを表す。
// admin と member の2値のみを取る閉じた列挙型。
type Role string

const (
	// RoleAdmin は管理者ロール。member の権限をすべて含む。
	RoleAdmin Role = "admin"
	// RoleMember は一般メンバーロール。新規プロフィールのデフォルト。
	RoleMember Role = "member"
)

// DefaultRole は新規作成時および不明な値を読み込んだ場合に使用するロール。
const DefaultRole = RoleMember

// ValidRoles は有効なロールの一覧。
var ValidRoles = []Role{RoleAdmin, RoleMember}

// ParseRole はDBなどから読み込んだ生の値をRoleに変換する。
// 全域関数であり、未知の値・空文字列はすべて DefaultRole (member) に倒す。
// 最小権限側へフォールバックする。
func ParseRole(raw string) Role {
	switch Role(raw) {
	case RoleAdmin:
		return RoleAdmin
	case RoleMember:
		return RoleMember
	default:
		return DefaultRole
	}
}

// IsValid はロールが列挙値のいずれかであるかを返す。
func (r Role) IsValid() bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Permits は required ロールが要求される操作を r が実行できるかを返す。
//
//	admin  を要求 → admin のみ
//	member を要求 → admin, member
func (r Role) Permits(required Role) bool {
	allowed, ok := permittedRoles[required]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}

// permittedRoles は要求ロールごとに許可される実ロールの集合。
var permittedRoles = map[Role][]Role{
	RoleAdmin:  {RoleAdmin},
	RoleMember: {RoleAdmin, RoleMember},
}

// validateRole はスキーマ検証用にロールが列挙値であることを確認する。
func validateRole(r Role) error {
	if !r.IsValid() {
		return fmt.Errorf("%w: invalid role %q", ErrSchemaMismatch, string(r))
	}
	return nil
}
