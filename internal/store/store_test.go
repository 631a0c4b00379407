package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"autohedge/internal/config"
	"autohedge/internal/service"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func testUser(id, username, email string) service.User {
	return service.User{
		ID:        id,
		Username:  username,
		Email:     email,
		FundName:  "Alpha Fund",
		CreatedAt: time.Now().UTC(),
	}
}

func TestUserRepo_CreateAndLookup(t *testing.T) {
	store := newTestStore(t)
	repo, err := NewUserRepo(store, nil)
	if err != nil {
		t.Fatalf("NewUserRepo: %v", err)
	}
	ctx := context.Background()

	user := testUser("u1", "trader_one", "one@example.com")
	key := service.APIKey{Key: "key-1", UserID: user.ID, CreatedAt: user.CreatedAt}
	if err := repo.CreateUser(ctx, user, key); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, found, err := repo.UserByAPIKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("UserByAPIKey: %v", err)
	}
	if !found {
		t.Fatal("expected user for issued key")
	}
	if got.Username != "trader_one" || got.FundName != "Alpha Fund" {
		t.Errorf("unexpected user %+v", got)
	}

	if _, found, err = repo.UserByAPIKey(ctx, "no-such-key"); err != nil || found {
		t.Errorf("unknown key: expected miss, found=%v err=%v", found, err)
	}
}

func TestUserRepo_DuplicateUser(t *testing.T) {
	store := newTestStore(t)
	repo, err := NewUserRepo(store, nil)
	if err != nil {
		t.Fatalf("NewUserRepo: %v", err)
	}
	ctx := context.Background()

	user := testUser("u1", "trader_one", "one@example.com")
	if err := repo.CreateUser(ctx, user, service.APIKey{Key: "key-1", UserID: user.ID}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	sameName := testUser("u2", "trader_one", "two@example.com")
	if err := repo.CreateUser(ctx, sameName, service.APIKey{Key: "key-2", UserID: sameName.ID}); !errors.Is(err, service.ErrDuplicateUser) {
		t.Errorf("duplicate username: expected ErrDuplicateUser, got %v", err)
	}

	sameEmail := testUser("u3", "trader_three", "one@example.com")
	if err := repo.CreateUser(ctx, sameEmail, service.APIKey{Key: "key-3", UserID: sameEmail.ID}); !errors.Is(err, service.ErrDuplicateUser) {
		t.Errorf("duplicate email: expected ErrDuplicateUser, got %v", err)
	}

	// 失败的注册不能留下可用的 API Key。
	if _, found, _ := repo.UserByAPIKey(ctx, "key-2"); found {
		t.Error("rejected registration must not leave a usable key")
	}
}

func TestUserRepo_ReplaceUser(t *testing.T) {
	store := newTestStore(t)
	repo, err := NewUserRepo(store, nil)
	if err != nil {
		t.Fatalf("NewUserRepo: %v", err)
	}
	ctx := context.Background()

	user := testUser("u1", "trader_one", "one@example.com")
	if err := repo.CreateUser(ctx, user, service.APIKey{Key: "key-1", UserID: user.ID}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	user.FundName = "Gamma Fund"
	replaced, err := repo.ReplaceUser(ctx, user)
	if err != nil {
		t.Fatalf("ReplaceUser: %v", err)
	}
	if !replaced {
		t.Fatal("expected replacement of existing user")
	}

	got, _, err := repo.UserByAPIKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("UserByAPIKey: %v", err)
	}
	if got.FundName != "Gamma Fund" {
		t.Errorf("replacement not persisted: %s", got.FundName)
	}

	missing := testUser("ghost", "ghost_user", "ghost@example.com")
	if replaced, err = repo.ReplaceUser(ctx, missing); err != nil || replaced {
		t.Errorf("missing user: expected no replacement, replaced=%v err=%v", replaced, err)
	}
}

func newTradeFixture(id, userID string, status service.TradeStatus, createdAt time.Time) service.Trade {
	return service.Trade{
		ID:         id,
		UserID:     userID,
		Stocks:     []string{"NVDA"},
		Task:       "evaluate momentum continuation into the quarter",
		Allocation: 1000,
		RiskLevel:  5,
		Status:     status,
		CreatedAt:  createdAt,
	}
}

func TestTradeRepo_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	repo, err := NewTradeRepo(store, nil)
	if err != nil {
		t.Fatalf("NewTradeRepo: %v", err)
	}
	ctx := context.Background()

	trade := newTradeFixture("t1", "u1", service.TradePending, time.Now().UTC())
	if err := repo.CreateTrade(ctx, trade); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	got, found, err := repo.TradeByID(ctx, "u1", "t1")
	if err != nil || !found {
		t.Fatalf("TradeByID: found=%v err=%v", found, err)
	}
	if got.Status != service.TradePending || got.Stocks[0] != "NVDA" {
		t.Errorf("unexpected trade %+v", got)
	}

	// 他人视角等同不存在。
	if _, found, _ = repo.TradeByID(ctx, "intruder", "t1"); found {
		t.Error("foreign trade must be invisible")
	}

	trade.Status = service.TradeCompleted
	replaced, err := repo.ReplaceTrade(ctx, trade)
	if err != nil || !replaced {
		t.Fatalf("ReplaceTrade: replaced=%v err=%v", replaced, err)
	}

	deleted, err := repo.DeleteTrade(ctx, "u1", "t1")
	if err != nil || !deleted {
		t.Fatalf("DeleteTrade: deleted=%v err=%v", deleted, err)
	}

	// 删除后的替换命中零行，写入被丢弃。
	if replaced, err = repo.ReplaceTrade(ctx, trade); err != nil || replaced {
		t.Errorf("replace after delete: expected dropped write, replaced=%v err=%v", replaced, err)
	}
	if deleted, err = repo.DeleteTrade(ctx, "u1", "t1"); err != nil || deleted {
		t.Errorf("second delete: expected no-op, deleted=%v err=%v", deleted, err)
	}
}

func TestTradeRepo_ListOrderingAndFilter(t *testing.T) {
	store := newTestStore(t)
	repo, err := NewTradeRepo(store, nil)
	if err != nil {
		t.Fatalf("NewTradeRepo: %v", err)
	}
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	fixtures := []service.Trade{
		newTradeFixture("t1", "u1", service.TradeCompleted, base),
		newTradeFixture("t2", "u1", service.TradeFailed, base.Add(time.Minute)),
		newTradeFixture("t3", "u1", service.TradeCompleted, base.Add(2*time.Minute)),
		newTradeFixture("t4", "other", service.TradeCompleted, base.Add(3*time.Minute)),
	}
	for _, trade := range fixtures {
		if err := repo.CreateTrade(ctx, trade); err != nil {
			t.Fatalf("CreateTrade %s: %v", trade.ID, err)
		}
	}

	trades, err := repo.ListTrades(ctx, "u1", service.ListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades for u1, got %d", len(trades))
	}
	if trades[0].ID != "t3" || trades[2].ID != "t1" {
		t.Errorf("expected newest-first ordering, got %s..%s", trades[0].ID, trades[2].ID)
	}

	completed, err := repo.ListTrades(ctx, "u1", service.ListFilter{Status: service.TradeCompleted, Limit: 10})
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(completed) != 2 {
		t.Errorf("expected 2 completed trades, got %d", len(completed))
	}

	page, err := repo.ListTrades(ctx, "u1", service.ListFilter{Limit: 1, Skip: 1})
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(page) != 1 || page[0].ID != "t2" {
		t.Errorf("expected second newest trade, got %+v", page)
	}

	recent, err := repo.ListTradesSince(ctx, "u1", base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ListTradesSince: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 trades since cutoff, got %d", len(recent))
	}
}
