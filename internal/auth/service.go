// Package auth はOAuth認証フロー、セッション管理、プロフィール解決を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecomlabs/toolsportal/internal/metrics"
	"github.com/ecomlabs/toolsportal/internal/model"
	"github.com/ecomlabs/toolsportal/internal/repository"
	"github.com/google/uuid"
)

// ProviderGoogle はGoogleのidentityを表すprovider名。
const ProviderGoogle = "google"

var (
	// ErrDomainNotAllowed はIdPのアカウントが許可ドメインに属さない場合のエラー。
	ErrDomainNotAllowed = errors.New("email domain is not allowed")
	// ErrMissingUser はIdPからユーザー情報が得られなかった場合のエラー。
	ErrMissingUser = errors.New("identity provider returned no user")
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	GivenName      string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge      int    // セッション有効期間（秒）
	AllowedEmailDomain string // 例: "ecomlabs.ca"
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	profileRepo repository.ProfileRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	oauth OAuthProvider,
	profileRepo repository.ProfileRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		oauth:       oauth,
		profileRepo: profileRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		metrics:     collector,
		now:         time.Now,
	}
}

// AllowedEmailDomain は許可ドメインを返す。
func (s *Service) AllowedEmailDomain() string {
	return s.config.AllowedEmailDomain
}

// SessionMaxAge はセッションの有効期間を返す。
func (s *Service) SessionMaxAge() time.Duration {
	return time.Duration(s.config.SessionMaxAge) * time.Second
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
//
// 許可ドメイン外のアカウントの場合は ErrDomainNotAllowed を返し、セッションを発行しない。
// 未登録のアカウントはprofilesとidentitiesを同一トランザクションで作成する（role=member）。
// 登録済みのアカウントはemailと表示名のみ更新し、roleは変更しない。
// 同じアカウントの初回サインインが並行してidentityの作成が競合した場合は、
// 先に作成されたプロフィールを使う。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	if userInfo == nil || userInfo.ProviderUserID == "" {
		return nil, ErrMissingUser
	}

	// 2. ドメイン検証
	if err := model.ValidateDomainEmail(userInfo.Email, s.config.AllowedEmailDomain); err != nil {
		slog.Warn("sign-in rejected: email domain not allowed",
			slog.String("email", userInfo.Email),
			slog.String("allowed_domain", s.config.AllowedEmailDomain),
		)
		return nil, fmt.Errorf("%w: %v", ErrDomainNotAllowed, err)
	}

	// 3. identitiesテーブルで既存プロフィールを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	record := &model.ProfileRecord{
		Email:       userInfo.Email,
		DisplayName: model.DeriveDisplayName(userInfo.Name, userInfo.GivenName, userInfo.Email),
		Role:        string(model.DefaultRole),
	}

	if identity != nil {
		// 4a. 既存プロフィール: email・表示名を最新化する
		record.ID = identity.ProfileID
		if _, err := s.profileRepo.Upsert(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to upsert profile: %w", err)
		}
		slog.Info("existing profile signed in",
			slog.String("user_id", record.ID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		// 4b. 新規プロフィール: profilesとidentitiesを同時に作成
		now := s.now()
		record.ID = uuid.New().String()
		newIdentity := &model.Identity{
			ID:             uuid.New().String(),
			ProfileID:      record.ID,
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			CreatedAt:      now,
		}
		_, err := s.profileRepo.UpsertWithIdentity(ctx, record, newIdentity)
		switch {
		case errors.Is(err, repository.ErrIdentityConflict):
			// 4c. 並行したサインインが先にidentityを作成した
			existing, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
			if err != nil {
				return nil, fmt.Errorf("failed to find identity after conflict: %w", err)
			}
			if existing == nil {
				return nil, fmt.Errorf("identity not found after conflict: provider=%s", userInfo.Provider)
			}
			record.ID = existing.ProfileID
			if _, err := s.profileRepo.Upsert(ctx, record); err != nil {
				return nil, fmt.Errorf("failed to upsert profile: %w", err)
			}
			slog.Info("concurrent sign-in resolved to existing profile",
				slog.String("user_id", record.ID),
				slog.String("provider", userInfo.Provider),
			)
		case err != nil:
			return nil, fmt.Errorf("failed to create profile and identity: %w", err)
		default:
			s.metrics.RecordProfileCreated()
			slog.Info("new profile created",
				slog.String("user_id", record.ID),
				slog.String("email", userInfo.Email),
				slog.String("provider", userInfo.Provider),
			)
		}
	}

	// 5. セッションを発行
	session, err := s.createSession(ctx, record.ID, userInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out", slog.String("session_id", sessionID))
	return nil
}

// LogoutAll はプロフィールに紐づく全セッションを破棄する。
// 許可ドメイン外と判定されたアカウントを他の端末からもサインアウトさせるために使う。
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	slog.Info("user signed out from all sessions", slog.String("user_id", userID))
	return nil
}

// FindSession は有効なセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (s *Service) FindSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// RefreshSession は有効期間の半分を過ぎたセッションの期限を延長する。
// 延長した場合はtrueを返し、sessionのExpiresAtを更新する。
func (s *Service) RefreshSession(ctx context.Context, session *model.Session) (bool, error) {
	now := s.now()
	maxAge := s.SessionMaxAge()
	if !session.NeedsRefresh(now, maxAge) {
		return false, nil
	}

	expiresAt := now.Add(maxAge)
	if err := s.sessionRepo.Extend(ctx, session.ID, expiresAt); err != nil {
		return false, fmt.Errorf("failed to refresh session: %w", err)
	}
	session.ExpiresAt = expiresAt
	return true, nil
}

// EnsureProfile はセッションに対応するプロフィールを取得し、存在しなければ作成する。
// 作成時のroleはmember、表示名はフルネーム・名・メールアドレスの順に決める。
func (s *Service) EnsureProfile(ctx context.Context, session *model.Session) (*model.ProfileRecord, error) {
	record, err := s.profileRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if record != nil {
		return record, nil
	}

	record = &model.ProfileRecord{
		ID:          session.UserID,
		Email:       session.Email,
		DisplayName: model.DeriveDisplayName(session.FullName, session.GivenName, session.Email),
		Role:        string(model.DefaultRole),
	}
	created, err := s.profileRepo.CreateIfAbsent(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	if !created {
		// 並行リクエストが先に作成した
		return s.profileRepo.FindByID(ctx, session.UserID)
	}

	s.metrics.RecordProfileCreated()
	slog.Info("profile created for session",
		slog.String("user_id", record.ID),
		slog.String("email", record.Email),
	)
	record.CreatedAt = s.now()
	return record, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, profileID string, userInfo *OAuthUserInfo) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    profileID,
		Email:     userInfo.Email,
		FullName:  userInfo.Name,
		GivenName: userInfo.GivenName,
		ExpiresAt: now.Add(s.SessionMaxAge()),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateState はOAuthのstateパラメータ用のランダム値を生成する。
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
