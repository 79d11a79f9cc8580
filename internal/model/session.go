package model

import "time"

// Identity は外部IdPのアカウントとプロフィールの紐付けを表す。
// IdPのsubject（Googleのsub）をUUIDのプロフィールIDに対応付ける。
type Identity struct {
	ID             string
	ProfileID      string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はIdPでの認証成功後に発行されるログインセッションを表す。
// IdPから受け取ったメールアドレスのクレームを保持し、ゲートでのドメイン判定に使う。
type Session struct {
	ID        string
	UserID    string // プロフィールID
	Email     string
	FullName  string
	GivenName string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NeedsRefresh はセッションの残り有効期間がmaxAgeの半分を切っているかを返す。
func (s *Session) NeedsRefresh(now time.Time, maxAge time.Duration) bool {
	return s.ExpiresAt.Sub(now) < maxAge/2
}
