package auth

import (
	"context"
	"log/slog"

	"github.com/ecomlabs/toolsportal/internal/model"
)

// ProfileFinder はプロフィールを1件取得する。
// repository.ProfileRepository はこのインターフェースを満たす。
type ProfileFinder interface {
	FindByID(ctx context.Context, id string) (*model.ProfileRecord, error)
}

// ResolveProfile はセッションに紐づくプロフィールを取得し、スキーマ検証を行う。
// セッションがない・取得に失敗した・検証に失敗した場合はすべてnilを返す。
// 未知のroleを持つレコードも検証失敗として扱う。
func ResolveProfile(ctx context.Context, session *model.Session, profiles ProfileFinder) *model.Profile {
	if session == nil || profiles == nil {
		return nil
	}

	record, err := profiles.FindByID(ctx, session.UserID)
	if err != nil {
		slog.Error("failed to load profile",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if record == nil {
		return nil
	}

	profile, err := record.ToStrictProfile()
	if err != nil {
		slog.Warn("profile failed validation",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return profile
}

// RequireRole はセッションのプロフィールが要求ロールを満たすかを判定する。
// プロフィールが解決できない場合は model.ErrUnauthenticated、
// ロールが不足する場合は model.ErrForbidden を返す。副作用はない。
func RequireRole(ctx context.Context, session *model.Session, profiles ProfileFinder, role model.Role) (*model.Profile, error) {
	profile := ResolveProfile(ctx, session, profiles)
	if profile == nil {
		return nil, model.ErrUnauthenticated
	}
	if !profile.Role.Permits(role) {
		return nil, model.ErrForbidden
	}
	return profile, nil
}
