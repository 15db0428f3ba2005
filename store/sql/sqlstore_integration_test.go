package sqlstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-shopify-app/app"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/security"
	sqlstore "github.com/goliatone/go-shopify-app/store/sql"
	"github.com/google/uuid"
)

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"app_sessions", "app_installations"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master: %v", err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestSessionStore_SealsTokenAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSessionSealer(newTestSealer(t)))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.SessionStore()
	if store == nil {
		t.Fatalf("expected session store from factory")
	}

	expiresAt := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	session := core.Session{
		ID:          "3f0c8a56-0000-4000-8000-000000000001",
		Shop:        "demo.myshopify.com",
		AccessToken: "shpat_secret",
		Scopes:      []string{"write_products", "read_products"},
		ExpiresAt:   expiresAt,
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	var raw []byte
	if err := client.DB().NewRaw(
		"SELECT encrypted_access_token FROM app_sessions WHERE id = ?",
		session.ID,
	).Scan(ctx, &raw); err != nil {
		t.Fatalf("read raw token: %v", err)
	}
	if len(raw) == 0 || string(raw) == "shpat_secret" {
		t.Fatalf("expected sealed access token at rest")
	}

	loaded, err := store.Load(ctx, session.ID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if loaded == nil || loaded.AccessToken != "shpat_secret" || loaded.Shop != session.Shop {
		t.Fatalf("unexpected session: %+v", loaded)
	}
	if len(loaded.Scopes) != 2 || loaded.Scopes[0] != "read_products" {
		t.Fatalf("expected normalized scopes, got %v", loaded.Scopes)
	}

	session.State = ""
	session.AccessToken = "shpat_rotated"
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("update session: %v", err)
	}
	loaded, err = store.Load(ctx, session.ID)
	if err != nil || loaded == nil || loaded.AccessToken != "shpat_rotated" {
		t.Fatalf("expected rotated token, got %+v err=%v", loaded, err)
	}
	total, err := store.Count(ctx)
	if err != nil || total != 1 {
		t.Fatalf("expected one stored session, got %d err=%v", total, err)
	}
}

func TestSessionStore_ExpiryPurgeAndDeleteByShop(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewSessionStore(client.DB(), newTestSealer(t))
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	now := time.Now().UTC()
	sessions := []core.Session{
		{ID: "s-live-1", Shop: "one.myshopify.com", ExpiresAt: now.Add(time.Hour)},
		{ID: "s-live-2", Shop: "one.myshopify.com", ExpiresAt: now.Add(time.Hour)},
		{ID: "s-expired", Shop: "two.myshopify.com", ExpiresAt: now.Add(-time.Hour)},
	}
	for _, session := range sessions {
		if err := store.Save(ctx, session); err != nil {
			t.Fatalf("save %s: %v", session.ID, err)
		}
	}

	expired, err := store.Load(ctx, "s-expired")
	if err != nil || expired != nil {
		t.Fatalf("expected expired session to load as nil, got %+v err=%v", expired, err)
	}
	missing, err := store.Load(ctx, "unknown")
	if err != nil || missing != nil {
		t.Fatalf("expected unknown session to load as nil, got %+v err=%v", missing, err)
	}

	purged, err := store.PurgeExpired(ctx)
	if err != nil || purged != 1 {
		t.Fatalf("expected one purged session, got %d err=%v", purged, err)
	}
	removed, err := store.DeleteByShop(ctx, "one.myshopify.com")
	if err != nil || removed != 2 {
		t.Fatalf("expected two removed sessions, got %d err=%v", removed, err)
	}
	if err := store.Delete(ctx, "s-live-1"); err != nil {
		t.Fatalf("delete missing session should not fail: %v", err)
	}
}

func TestInstallationStore_UpsertLifecycle(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewInstallationStore(client.DB())
	if err != nil {
		t.Fatalf("new installation store: %v", err)
	}

	if _, err := store.GetByShop(ctx, "demo.myshopify.com"); !core.IsNotFound(err) {
		t.Fatalf("expected not found before install, got %v", err)
	}
	if _, err := store.Upsert(ctx, core.UpsertInstallationInput{
		Shop:   "demo",
		Status: core.InstallationStatusUninstalled,
	}); err == nil {
		t.Fatalf("expected new installation to require active status")
	}

	created, err := store.Upsert(ctx, core.UpsertInstallationInput{
		Shop:   "Demo.myshopify.com",
		Scopes: []string{"read_products"},
	})
	if err != nil {
		t.Fatalf("create installation: %v", err)
	}
	if created.Shop != "demo.myshopify.com" || !created.Active() || created.ID == "" {
		t.Fatalf("unexpected installation: %+v", created)
	}

	if err := store.UpdateStatus(ctx, "demo.myshopify.com", core.InstallationStatusUninstalled); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	uninstalled, err := store.GetByShop(ctx, "demo.myshopify.com")
	if err != nil {
		t.Fatalf("get uninstalled: %v", err)
	}
	if uninstalled.Active() || uninstalled.UninstalledAt == nil {
		t.Fatalf("expected uninstalled installation, got %+v", uninstalled)
	}

	reinstalled, err := store.Upsert(ctx, core.UpsertInstallationInput{
		Shop:   "demo.myshopify.com",
		Scopes: []string{"write_products", "read_products"},
		Status: core.InstallationStatusActive,
	})
	if err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if reinstalled.ID != created.ID || !reinstalled.Active() || reinstalled.UninstalledAt != nil {
		t.Fatalf("expected reactivated installation with same id, got %+v", reinstalled)
	}
	if len(reinstalled.Scopes) != 2 {
		t.Fatalf("expected updated scopes, got %v", reinstalled.Scopes)
	}
	byID, err := store.Get(ctx, created.ID)
	if err != nil || byID.Shop != "demo.myshopify.com" {
		t.Fatalf("get by id: %+v err=%v", byID, err)
	}

	if err := store.UpdateStatus(ctx, "missing.myshopify.com", core.InstallationStatusUninstalled); !core.IsNotFound(err) {
		t.Fatalf("expected not found for missing shop, got %v", err)
	}
}

func TestCachedInstallationStore_InvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromDB(client.DB(), sqlstore.WithInstallationCache(cacheService))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.InstallationStore()
	if _, ok := store.(*sqlstore.CachedInstallationStore); !ok {
		t.Fatalf("expected cached installation store, got %T", store)
	}

	if _, err := store.Upsert(ctx, core.UpsertInstallationInput{Shop: "demo.myshopify.com"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	first, err := store.GetByShop(ctx, "demo.myshopify.com")
	if err != nil || !first.Active() {
		t.Fatalf("expected active installation, got %+v err=%v", first, err)
	}
	if err := store.UpdateStatus(ctx, "demo.myshopify.com", core.InstallationStatusUninstalled); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	second, err := store.GetByShop(ctx, "demo.myshopify.com")
	if err != nil {
		t.Fatalf("get after uninstall: %v", err)
	}
	if second.Active() {
		t.Fatalf("expected cache to be invalidated after status update")
	}
}

func TestInstallationCacheKey(t *testing.T) {
	key, err := sqlstore.InstallationCacheKey("Demo")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "shopifyapp::installation::v1::demo.myshopify.com" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := sqlstore.InstallationCacheKey("evil.com"); err == nil {
		t.Fatalf("expected invalid shop to be rejected")
	}
}

func newTestSealer(t *testing.T) *security.Sealer {
	t.Helper()
	keyring, err := security.NewKeyring("sqlstore-test-secret")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	sealer, err := keyring.Sealer()
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	return sealer
}

// newSQLiteClient opens a private in-memory database through the same path
// the server uses and applies the schema.
func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = fmt.Sprintf("file:sqlstore-%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())

	client, err := app.OpenDatabase(cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := app.Migrate(context.Background(), client, cfg); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}
	return client, func() { _ = client.Close() }
}
