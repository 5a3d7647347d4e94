package identitytransfer_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	identitytransfer "github.com/goliatone/go-identity-transfer"
	"github.com/goliatone/go-identity-transfer/core"
	identitymigrations "github.com/goliatone/go-identity-transfer/migrations"
	"github.com/goliatone/go-identity-transfer/query"
	sqlstore "github.com/goliatone/go-identity-transfer/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

var registeredAt = time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)

type sqliteConfig struct {
	dsn string
}

func (sqliteConfig) GetDebug() bool                { return false }
func (sqliteConfig) GetDriver() string             { return "sqlite3" }
func (c sqliteConfig) GetServer() string           { return c.dsn }
func (sqliteConfig) GetPingTimeout() time.Duration { return time.Second }
func (sqliteConfig) GetOtelIdentifier() string     { return "identity-transfer-facade-tests" }

// fakeApple answers the token and migration endpoints. Subs listed in
// unknown get a 400 from the migration endpoint.
type fakeApple struct {
	mu          sync.Mutex
	tokenCalls  int
	transfers   map[string]string
	identities  map[string]core.ProviderIdentity
	unknown     map[string]bool
	lastSecret  string
	lastBearers []string
}

func newFakeApple() *fakeApple {
	return &fakeApple{
		transfers:  map[string]string{},
		identities: map[string]core.ProviderIdentity{},
		unknown:    map[string]bool{},
	}
}

func (f *fakeApple) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/auth/token":
		f.tokenCalls++
		f.lastSecret = r.PostForm.Get("client_secret")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("token-%d", f.tokenCalls),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	case "/auth/usermigrationinfo":
		f.lastBearers = append(f.lastBearers, r.Header.Get("Authorization"))
		if sub := r.PostForm.Get("sub"); sub != "" {
			if f.unknown[sub] {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"transfer_sub": f.transfers[sub]})
			return
		}
		identity, ok := f.identities[r.PostForm.Get("transfer_sub")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":              identity.Sub,
			"email":            identity.Email,
			"is_private_email": "true",
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeApple) tokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

type facadeFixture struct {
	ctx    context.Context
	apple  *fakeApple
	facade *identitytransfer.Facade
	users  *sqlstore.UserStore
}

func newFacadeFixture(t *testing.T, mutate func(*identitytransfer.Config)) facadeFixture {
	t.Helper()
	ctx := context.Background()

	apple := newFakeApple()
	server := httptest.NewServer(apple)
	t.Cleanup(server.Close)

	secretPath := filepath.Join(t.TempDir(), "client_secret_jwt.txt")
	if err := os.WriteFile(secretPath, []byte("signed-client-secret\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	dsn := fmt.Sprintf("file:identity-transfer-facade-%d?mode=memory&cache=shared", time.Now().UnixNano())
	client := newMigratedClient(t, dsn)

	cfg := identitytransfer.DefaultConfig()
	cfg.Provider.BaseURL = server.URL
	cfg.Provider.ClientID = "com.example.app"
	cfg.Provider.TargetTeamID = "TEAM123456"
	cfg.Provider.ClientSecretPath = secretPath
	cfg.Store.Driver = core.StoreDriverSQLite
	cfg.Store.DSN = dsn
	cfg.Run.PageSize = 2
	if mutate != nil {
		mutate(&cfg)
	}

	facade, err := identitytransfer.New(ctx, cfg,
		identitytransfer.WithPersistenceClient(client),
		identitytransfer.WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	t.Cleanup(func() { _ = facade.Close(ctx) })

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return facadeFixture{ctx: ctx, apple: apple, facade: facade, users: factory.UserStore()}
}

func newMigratedClient(t *testing.T, dsn string) *persistence.Client {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(sqliteConfig{dsn: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if _, err := identitymigrations.Apply(ctx, client, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}

func (f facadeFixture) seed(t *testing.T, users ...core.UserRecord) {
	t.Helper()
	if _, err := f.users.Insert(f.ctx, users...); err != nil {
		t.Fatalf("seed users: %v", err)
	}
}

func (f facadeFixture) user(t *testing.T, id string) core.UserRecord {
	t.Helper()
	record, err := f.facade.Users().Get(f.ctx, id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return record
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := identitytransfer.DefaultConfig()
	if _, err := identitytransfer.New(context.Background(), cfg); err == nil {
		t.Fatalf("expected config without client id to be rejected")
	}
}

func TestFacade_PhaseOneThenPhaseTwo(t *testing.T) {
	fx := newFacadeFixture(t, nil)
	fx.apple.transfers["S1"] = "T1"
	fx.apple.transfers["S2"] = "T2"
	fx.apple.unknown["S3"] = true
	fx.apple.identities["T1"] = core.ProviderIdentity{Sub: "N1", Email: "n1@privaterelay.appleid.com"}
	fx.apple.identities["T2"] = core.ProviderIdentity{Sub: "N2", Email: "n2@privaterelay.appleid.com"}
	fx.seed(t,
		core.UserRecord{ID: "u1", RegisteredAt: registeredAt, ProviderSub: "S1", ProviderEmail: "old1@example.com"},
		core.UserRecord{ID: "u2", RegisteredAt: registeredAt.Add(time.Minute), ProviderSub: "S2"},
		core.UserRecord{ID: "u3", RegisteredAt: registeredAt.Add(2 * time.Minute), ProviderSub: "S3"},
		core.UserRecord{ID: "u4", RegisteredAt: registeredAt.Add(3 * time.Minute)},
	)

	report, err := fx.facade.RunPhaseOne(fx.ctx)
	if err != nil {
		t.Fatalf("phase one: %v", err)
	}
	if report.Scanned != 3 || report.Updated != 2 || report.Failed != 1 {
		t.Fatalf("unexpected phase one report: %+v", report)
	}
	if got := fx.user(t, "u1").TransferSub; got != "T1" {
		t.Fatalf("expected u1 transfer sub T1, got %q", got)
	}
	if got := fx.user(t, "u3").TransferSub; got != "" {
		t.Fatalf("expected u3 untouched, got %q", got)
	}
	if fx.apple.tokens() != 1 {
		t.Fatalf("expected one token per run, got %d", fx.apple.tokens())
	}

	if _, err := fx.facade.RunPhaseTwo(fx.ctx, core.TransferConfirmation{}); !errors.Is(err, core.ErrTransferNotConfirmed) {
		t.Fatalf("expected unconfirmed phase two to be refused, got %v", err)
	}
	if fx.apple.tokens() != 1 {
		t.Fatalf("expected refused phase two to skip token issuance")
	}

	report, err = fx.facade.RunPhaseTwo(fx.ctx, core.TransferConfirmation{Confirmed: true, ConfirmedBy: "ops"})
	if err != nil {
		t.Fatalf("phase two: %v", err)
	}
	if report.Scanned != 2 || report.Updated != 2 {
		t.Fatalf("unexpected phase two report: %+v", report)
	}
	migrated := fx.user(t, "u1")
	if migrated.ProviderSub != "N1" || migrated.ProviderEmail != "n1@privaterelay.appleid.com" || migrated.TransferSub != "T1" {
		t.Fatalf("unexpected migrated record: %+v", migrated)
	}

	runs, err := fx.facade.Queries().ListRuns.Query(fx.ctx, query.ListRunsMessage{})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected two recorded runs, got %d", len(runs))
	}
	if runs[0].Phase != core.PhaseExchangeIdentity {
		t.Fatalf("expected latest run first, got %s", runs[0].Phase)
	}
}

func TestFacade_PhaseTwoRerunCountsAlreadyMigrated(t *testing.T) {
	fx := newFacadeFixture(t, nil)
	fx.apple.identities["T1"] = core.ProviderIdentity{Sub: "N1", Email: "n1@example.com"}
	fx.seed(t, core.UserRecord{ID: "u1", RegisteredAt: registeredAt, ProviderSub: "S1", TransferSub: "T1"})

	confirmation := core.TransferConfirmation{Confirmed: true, ConfirmedBy: "ops"}
	if _, err := fx.facade.RunPhaseTwo(fx.ctx, confirmation); err != nil {
		t.Fatalf("first phase two: %v", err)
	}
	report, err := fx.facade.RunPhaseTwo(fx.ctx, confirmation)
	if err != nil {
		t.Fatalf("second phase two: %v", err)
	}
	if report.Updated != 0 || report.AlreadyMigrated != 1 {
		t.Fatalf("expected rerun to be a no-op, got %+v", report)
	}
}

func TestFacade_CachedTokenIsReusedAcrossRuns(t *testing.T) {
	fx := newFacadeFixture(t, func(cfg *identitytransfer.Config) {
		cfg.Run.AccessTokenTTL = time.Hour
		cfg.Run.RenewBefore = time.Minute
	})
	fx.apple.transfers["S1"] = "T1"
	fx.seed(t, core.UserRecord{ID: "u1", RegisteredAt: registeredAt, ProviderSub: "S1"})

	for i := 0; i < 2; i++ {
		if _, err := fx.facade.RunPhaseOne(fx.ctx); err != nil {
			t.Fatalf("phase one run %d: %v", i, err)
		}
	}
	if fx.apple.tokens() != 1 {
		t.Fatalf("expected cached token to be reused, got %d token calls", fx.apple.tokens())
	}
}

func TestFacade_IssueToken(t *testing.T) {
	fx := newFacadeFixture(t, nil)
	creds, err := fx.facade.IssueToken(fx.ctx)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if creds.AccessToken != "token-1" || creds.ClientSecret != "signed-client-secret" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestFacade_BusDispatchesThroughCommands(t *testing.T) {
	fx := newFacadeFixture(t, nil)
	fx.apple.transfers["S1"] = "T1"
	fx.seed(t, core.UserRecord{ID: "u1", RegisteredAt: registeredAt, ProviderSub: "S1"})

	bus, err := fx.facade.Bus()
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()

	report, err := bus.RunPhaseOne(fx.ctx)
	if err != nil {
		t.Fatalf("dispatch phase one: %v", err)
	}
	if report.Updated != 1 {
		t.Fatalf("expected one update through the bus, got %+v", report)
	}
	record, err := bus.GetUser(fx.ctx, "u1")
	if err != nil {
		t.Fatalf("query user: %v", err)
	}
	if record.TransferSub != "T1" {
		t.Fatalf("expected transfer sub T1 via query, got %q", record.TransferSub)
	}
}
