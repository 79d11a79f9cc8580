package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ecomlabs/toolsportal/internal/database"
	"github.com/ecomlabs/toolsportal/internal/model"
	"github.com/google/uuid"
)

// PostgresProfileRepoはProfileRepositoryインターフェースを満たすことを検証
func TestPostgresProfileRepo_ImplementsInterface(t *testing.T) {
	var _ ProfileRepository = (*PostgresProfileRepo)(nil)
}

// PostgresIdentityRepoはIdentityRepositoryインターフェースを満たすことを検証
func TestPostgresIdentityRepo_ImplementsInterface(t *testing.T) {
	var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

// openTestDB はマイグレーション済みのテスト用DBを返す。
// TEST_DATABASE_URL が未設定の場合はスキップする。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := database.Open(dbURL, database.PoolConfig{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE sessions, identities, profiles CASCADE`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func newProfileRecord(email, name string) *model.ProfileRecord {
	return &model.ProfileRecord{
		ID:          uuid.New().String(),
		Email:       email,
		DisplayName: name,
		Role:        string(model.DefaultRole),
	}
}

// アップサートしたプロフィールを読み戻すと同じ値で検証を通過する
func TestPostgresProfileRepo_UpsertRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresProfileRepo(db)
	ctx := context.Background()

	in := newProfileRecord("round@ecomlabs.ca", "Round Trip")
	saved, err := repo.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	got, err := repo.FindByID(ctx, in.ID)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if got == nil {
		t.Fatal("expected profile, got nil")
	}

	profile, err := got.ToStrictProfile()
	if err != nil {
		t.Fatalf("profile failed validation: %v", err)
	}
	if profile.ID != in.ID || profile.Email != in.Email || profile.DisplayName != in.DisplayName || profile.Role != model.RoleMember {
		t.Errorf("profile = %+v, want values of %+v", profile, in)
	}
	if !got.CreatedAt.Equal(saved.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, saved.CreatedAt)
	}
}

// 既存プロフィールのアップサートはroleを保持する
func TestPostgresProfileRepo_UpsertPreservesRole(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresProfileRepo(db)
	ctx := context.Background()

	in := newProfileRecord("keep@ecomlabs.ca", "Keep")
	if _, err := repo.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if _, err := db.Exec(`UPDATE profiles SET role = 'admin' WHERE id = $1`, in.ID); err != nil {
		t.Fatalf("failed to promote: %v", err)
	}

	in.DisplayName = "Keep Renamed"
	saved, err := repo.Upsert(ctx, in)
	if err != nil {
		t.Fatalf("second Upsert error: %v", err)
	}
	if saved.Role != "admin" {
		t.Errorf("Role = %q, want admin", saved.Role)
	}
	if saved.DisplayName != "Keep Renamed" {
		t.Errorf("DisplayName = %q, want Keep Renamed", saved.DisplayName)
	}
}

// FindByIDは存在しないIDに対してnilを返す
func TestPostgresProfileRepo_FindByID_NotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresProfileRepo(db)

	got, err := repo.FindByID(context.Background(), uuid.New().String())
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

// CreateIfAbsentは既存レコードを変更しない
func TestPostgresProfileRepo_CreateIfAbsent(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresProfileRepo(db)
	ctx := context.Background()

	in := newProfileRecord("absent@ecomlabs.ca", "")
	created, err := repo.CreateIfAbsent(ctx, in)
	if err != nil || !created {
		t.Fatalf("CreateIfAbsent = %v, %v; want true, nil", created, err)
	}

	in.Email = "changed@ecomlabs.ca"
	created, err = repo.CreateIfAbsent(ctx, in)
	if err != nil || created {
		t.Fatalf("second CreateIfAbsent = %v, %v; want false, nil", created, err)
	}

	got, _ := repo.FindByID(ctx, in.ID)
	if got.Email != "absent@ecomlabs.ca" {
		t.Errorf("Email = %q, want unchanged", got.Email)
	}
	if got.DisplayName != "" {
		t.Errorf("DisplayName = %q, want empty", got.DisplayName)
	}
}

// UpsertWithIdentityで作成したidentityからプロフィールを辿れる
func TestPostgresProfileRepo_UpsertWithIdentity(t *testing.T) {
	db := openTestDB(t)
	profiles := NewPostgresProfileRepo(db)
	identities := NewPostgresIdentityRepo(db)
	ctx := context.Background()

	in := newProfileRecord("ident@ecomlabs.ca", "Ident")
	identity := &model.Identity{
		ID:             uuid.New().String(),
		ProfileID:      in.ID,
		Provider:       "google",
		ProviderUserID: "google-sub-1",
		CreatedAt:      time.Now(),
	}
	if _, err := profiles.UpsertWithIdentity(ctx, in, identity); err != nil {
		t.Fatalf("UpsertWithIdentity error: %v", err)
	}

	got, err := identities.FindByProviderAndProviderUserID(ctx, "google", "google-sub-1")
	if err != nil {
		t.Fatalf("FindByProviderAndProviderUserID error: %v", err)
	}
	if got == nil || got.ProfileID != in.ID {
		t.Errorf("identity = %+v, want profile %s", got, in.ID)
	}

	missing, err := identities.FindByProviderAndProviderUserID(ctx, "google", "nobody")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown subject, got %+v, %v", missing, err)
	}
}

// 同じアカウントのidentityを2回作成すると2回目は ErrIdentityConflict になり、プロフィールも残らない
func TestPostgresProfileRepo_UpsertWithIdentity_Conflict(t *testing.T) {
	db := openTestDB(t)
	profiles := NewPostgresProfileRepo(db)
	ctx := context.Background()

	newIdentity := func(profileID string) *model.Identity {
		return &model.Identity{
			ID:             uuid.New().String(),
			ProfileID:      profileID,
			Provider:       "google",
			ProviderUserID: "google-sub-race",
			CreatedAt:      time.Now(),
		}
	}

	first := newProfileRecord("race@ecomlabs.ca", "Race")
	if _, err := profiles.UpsertWithIdentity(ctx, first, newIdentity(first.ID)); err != nil {
		t.Fatalf("first UpsertWithIdentity error: %v", err)
	}

	second := newProfileRecord("race@ecomlabs.ca", "Race")
	_, err := profiles.UpsertWithIdentity(ctx, second, newIdentity(second.ID))
	if !errors.Is(err, ErrIdentityConflict) {
		t.Fatalf("second UpsertWithIdentity error = %v, want ErrIdentityConflict", err)
	}

	orphan, err := profiles.FindByID(ctx, second.ID)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if orphan != nil {
		t.Errorf("profile of the losing sign-in should be rolled back, got %+v", orphan)
	}
}

// 期限切れセッションは取得されず、Extendで延長できる
func TestPostgresSessionRepo_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	profiles := NewPostgresProfileRepo(db)
	sessions := NewPostgresSessionRepo(db)
	ctx := context.Background()

	owner := newProfileRecord("sess@ecomlabs.ca", "Sess")
	if _, err := profiles.Upsert(ctx, owner); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	now := time.Now()
	sess := &model.Session{
		ID:        "session-lifecycle",
		UserID:    owner.ID,
		Email:     owner.Email,
		FullName:  "Sess Person",
		GivenName: "Sess",
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-time.Hour),
	}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := sessions.FindByID(ctx, sess.ID)
	if err != nil || got != nil {
		t.Fatalf("expired session: got %+v, %v; want nil, nil", got, err)
	}

	if err := sessions.Extend(ctx, sess.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("Extend error: %v", err)
	}
	got, err = sessions.FindByID(ctx, sess.ID)
	if err != nil || got == nil {
		t.Fatalf("extended session: got %+v, %v", got, err)
	}
	if got.Email != sess.Email || got.GivenName != "Sess" {
		t.Errorf("session = %+v", got)
	}

	if err := sessions.DeleteByUserID(ctx, owner.ID); err != nil {
		t.Fatalf("DeleteByUserID error: %v", err)
	}
	if got, _ := sessions.FindByID(ctx, sess.ID); got != nil {
		t.Error("expected session to be deleted")
	}
}
