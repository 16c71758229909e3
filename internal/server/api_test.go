package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/auth"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/chat"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/directory"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/presence"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/realtime"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/server"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/session"
	"github.com/abusaleh34/care-booking-windsurf-sub001/pkg/config"
)

const testSecret = "api-test-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fixture struct {
	t       *testing.T
	handler http.Handler
	dir     *directory.Directory
	store   *chat.GormStore
	issuer  *auth.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	dir := directory.New(db)
	store := chat.NewGormStore(db)
	if err := dir.Migrate(); err != nil {
		t.Fatalf("migrate directory: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate chat: %v", err)
	}

	registry := session.NewRegistry(logger)
	fanout := realtime.NewFanout(registry, logger)
	chats := chat.NewService(store, fanout, time.Second, logger)
	coordinator := presence.NewCoordinator(logger)
	verifier := auth.NewVerifier(testSecret)
	issuer := auth.NewIssuer(testSecret, time.Hour)
	router := realtime.NewRouter(logger, registry, chats, coordinator, verifier, fanout)

	cfg := &config.Config{}
	cfg.Server.Address = ":0"
	cfg.Server.ConnectionLimit = config.ConnectionLimitConfig{MaxPerIP: 4, Mode: "reject"}

	app := server.NewApp(logger, context.Background(), cfg, server.Deps{
		Registry:  registry,
		Router:    router,
		Chats:     chats,
		Directory: dir,
		Verifier:  verifier,
		Issuer:    issuer,
	})

	return &fixture{t: t, handler: app.Handler(), dir: dir, store: store, issuer: issuer}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "127.0.0.1:51000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedUser(id, email string) string {
	f.t.Helper()
	user := &directory.User{
		ID:           id,
		Name:         "Test " + id,
		Email:        email,
		PasswordHash: "x",
		Role:         directory.RoleCustomer,
		Active:       true,
	}
	if err := f.dir.CreateUser(context.Background(), user); err != nil {
		f.t.Fatalf("seed user: %v", err)
	}
	token, err := f.issuer.Issue(id)
	if err != nil {
		f.t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestRegisterAndLoginFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name":     "Alice",
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d; body %s", rec.Code, rec.Body.String())
	}

	// duplicate email conflicts
	rec = f.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name":     "Alice Again",
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d; want 409", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d; body %s", rec.Code, rec.Body.String())
	}
	var loginResp struct {
		AccessToken string `json:"access_token"`
	}
	json.Unmarshal(rec.Body.Bytes(), &loginResp)
	if loginResp.AccessToken == "" {
		t.Fatal("login returned no token")
	}

	rec = f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad-password login status = %d; want 401", rec.Code)
	}
}

func TestChatRoutesRequireBearerToken(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodGet, "/api/v1/chats", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d; want 401", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/chats", "bogus-token", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad-token list status = %d; want 401", rec.Code)
	}
}

func TestCreateChatForBooking(t *testing.T) {
	f := newFixture(t)
	tokenA := f.seedUser("userA", "a@example.com")
	f.seedUser("userB", "b@example.com")
	tokenC := f.seedUser("userC", "c@example.com")

	booking := &directory.Booking{ID: "booking-1", CustomerID: "userA", ProviderID: "userB", Status: "confirmed"}
	if err := f.dir.CreateBooking(context.Background(), booking); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	rec := f.do(http.MethodPost, "/api/v1/chats", tokenA, map[string]string{"booking_id": "booking-1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chat status = %d; body %s", rec.Code, rec.Body.String())
	}

	// one chat per booking
	rec = f.do(http.MethodPost, "/api/v1/chats", tokenA, map[string]string{"booking_id": "booking-1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate chat status = %d; want 409", rec.Code)
	}

	// a stranger to the booking is refused
	rec = f.do(http.MethodPost, "/api/v1/chats", tokenC, map[string]string{"booking_id": "booking-1"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider create status = %d; want 403", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/v1/chats", tokenA, map[string]string{"booking_id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown booking status = %d; want 404", rec.Code)
	}
}

func TestFetchingChatMarksItRead(t *testing.T) {
	f := newFixture(t)
	tokenB := f.seedUser("userB", "b@example.com")
	f.seedUser("userA", "a@example.com")

	c := &chat.Chat{ID: "chat1", CustomerID: "userA", ProviderID: "userB", Active: true}
	if err := f.store.Create(context.Background(), c); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	msg := &chat.Message{ID: uuid.NewString(), ChatID: "chat1", SenderID: "userA", Content: "hello", CreatedAt: time.Now().UTC()}
	if err := f.store.AppendMessage(context.Background(), c, msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	rec := f.do(http.MethodGet, "/api/v1/chats/chat1", tokenB, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get chat status = %d; body %s", rec.Code, rec.Body.String())
	}

	reloaded, err := f.store.Find(context.Background(), "chat1")
	if err != nil {
		t.Fatalf("reload chat: %v", err)
	}
	if reloaded.UnreadCount != 0 {
		t.Errorf("unreadCount after view = %d; want 0", reloaded.UnreadCount)
	}
	msgs, _ := f.store.Messages(context.Background(), "chat1", 0)
	if len(msgs) != 1 || !msgs[0].Read {
		t.Error("viewing did not reconcile read state")
	}
}

func TestMarkReadEndpoint(t *testing.T) {
	f := newFixture(t)
	tokenB := f.seedUser("userB", "b@example.com")
	tokenC := f.seedUser("userC", "c@example.com")

	c := &chat.Chat{ID: "chat1", CustomerID: "userA", ProviderID: "userB", Active: true}
	if err := f.store.Create(context.Background(), c); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	msg := &chat.Message{ID: uuid.NewString(), ChatID: "chat1", SenderID: "userA", Content: "hello", CreatedAt: time.Now().UTC()}
	if err := f.store.AppendMessage(context.Background(), c, msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	if rec := f.do(http.MethodPost, "/api/v1/chats/chat1/read", tokenC, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("outsider mark-read status = %d; want 403", rec.Code)
	}

	rec := f.do(http.MethodPost, "/api/v1/chats/chat1/read", tokenB, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark-read status = %d; body %s", rec.Code, rec.Body.String())
	}
	reloaded, _ := f.store.Find(context.Background(), "chat1")
	if reloaded.UnreadCount != 0 {
		t.Errorf("unreadCount = %d; want 0", reloaded.UnreadCount)
	}
}
