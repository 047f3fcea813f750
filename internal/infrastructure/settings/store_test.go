package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"biosync/internal/infrastructure/persistence/sqlite/model"
	"biosync/internal/ports"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "settings.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.SettingKV{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return NewStore(db)
}

func TestCredentialRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, found, err := store.Credential(ctx); err != nil || found {
		t.Fatalf("empty store: found=%t err=%v", found, err)
	}

	issued := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	if err := store.SetCredential(ctx, ports.Credential{
		Username:  "operator",
		Password:  "secret",
		Token:     "tok-1",
		Principal: "Operator One",
		IssuedAt:  issued,
	}); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}

	cred, found, err := store.Credential(ctx)
	if err != nil || !found {
		t.Fatalf("Credential() found=%t err=%v", found, err)
	}
	if cred.Username != "operator" || cred.Token != "tok-1" || !cred.IssuedAt.Equal(issued) {
		t.Fatalf("credential = %+v", cred)
	}
}

func TestClearTokenKeepsUsername(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.SetCredential(ctx, ports.Credential{
		Username: "operator",
		Password: "secret",
		Token:    "tok-1",
	}); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	if err := store.ClearToken(ctx); err != nil {
		t.Fatalf("ClearToken() error = %v", err)
	}

	cred, found, err := store.Credential(ctx)
	if err != nil || !found {
		t.Fatalf("Credential() found=%t err=%v", found, err)
	}
	if cred.Token != "" {
		t.Fatalf("token should be gone, got %q", cred.Token)
	}
	if cred.Username != "operator" || cred.Password != "secret" {
		t.Fatalf("username/password must survive a token clear: %+v", cred)
	}
}

func TestClearCredentialRemovesEverything(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.SetCredential(ctx, ports.Credential{Username: "operator", Token: "tok"}); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	if err := store.ClearCredential(ctx); err != nil {
		t.Fatalf("ClearCredential() error = %v", err)
	}
	if _, found, err := store.Credential(ctx); err != nil || found {
		t.Fatalf("credential should be gone, found=%t err=%v", found, err)
	}
}

func TestWatermarks(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, found, err := store.LastPullAt(ctx); err != nil || found {
		t.Fatalf("fresh store pull watermark: found=%t err=%v", found, err)
	}

	pullAt := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	pushAt := pullAt.Add(15 * time.Minute)
	if err := store.SetLastPullAt(ctx, pullAt); err != nil {
		t.Fatalf("SetLastPullAt() error = %v", err)
	}
	if err := store.SetLastPushAt(ctx, pushAt); err != nil {
		t.Fatalf("SetLastPushAt() error = %v", err)
	}

	gotPull, found, err := store.LastPullAt(ctx)
	if err != nil || !found || !gotPull.Equal(pullAt) {
		t.Fatalf("LastPullAt() = %v found=%t err=%v", gotPull, found, err)
	}
	gotPush, found, err := store.LastPushAt(ctx)
	if err != nil || !found || !gotPush.Equal(pushAt) {
		t.Fatalf("LastPushAt() = %v found=%t err=%v", gotPush, found, err)
	}

	// Last writer wins.
	later := pullAt.Add(time.Hour)
	if err := store.SetLastPullAt(ctx, later); err != nil {
		t.Fatalf("SetLastPullAt() error = %v", err)
	}
	gotPull, _, err = store.LastPullAt(ctx)
	if err != nil || !gotPull.Equal(later) {
		t.Fatalf("LastPullAt() after overwrite = %v err=%v", gotPull, err)
	}
}
