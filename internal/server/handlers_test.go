package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"autohedge/internal/fund"
	"autohedge/internal/pipeline"
	"autohedge/internal/service"
)

type memStore struct {
	mu     sync.Mutex
	users  map[string]service.User
	keys   map[string]string
	trades map[string]service.Trade
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[string]service.User{},
		keys:   map[string]string{},
		trades: map[string]service.Trade{},
	}
}

func (s *memStore) CreateUser(_ context.Context, user service.User, key service.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return service.ErrDuplicateUser
		}
	}
	s.users[user.ID] = user
	s.keys[key.Key] = user.ID
	return nil
}

func (s *memStore) UserByAPIKey(_ context.Context, key string) (service.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.keys[key]
	if !ok {
		return service.User{}, false, nil
	}
	return s.users[userID], true, nil
}

func (s *memStore) ReplaceUser(_ context.Context, user service.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return false, nil
	}
	s.users[user.ID] = user
	return true, nil
}

func (s *memStore) CreateTrade(_ context.Context, trade service.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.ID] = trade
	return nil
}

func (s *memStore) TradeByID(_ context.Context, userID, tradeID string) (service.Trade, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[tradeID]
	if !ok || trade.UserID != userID {
		return service.Trade{}, false, nil
	}
	return trade, true, nil
}

func (s *memStore) ReplaceTrade(_ context.Context, trade service.Trade) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[trade.ID]; !ok {
		return false, nil
	}
	s.trades[trade.ID] = trade
	return true, nil
}

func (s *memStore) DeleteTrade(_ context.Context, userID, tradeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade, ok := s.trades[tradeID]
	if !ok || trade.UserID != userID {
		return false, nil
	}
	delete(s.trades, tradeID)
	return true, nil
}

func (s *memStore) ListTrades(_ context.Context, userID string, filter service.ListFilter) ([]service.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []service.Trade
	for _, trade := range s.trades {
		if trade.UserID != userID {
			continue
		}
		if filter.Status != "" && trade.Status != filter.Status {
			continue
		}
		out = append(out, trade)
	}
	if filter.Skip >= len(out) {
		return nil, nil
	}
	out = out[filter.Skip:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) ListTradesSince(_ context.Context, userID string, since time.Time) ([]service.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []service.Trade
	for _, trade := range s.trades {
		if trade.UserID == userID && trade.CreatedAt.After(since) {
			out = append(out, trade)
		}
	}
	return out, nil
}

type okRunner struct{}

func (okRunner) Run(_ context.Context, params fund.Params) (fund.Output, error) {
	results := make([]pipeline.StockResult, len(params.Stocks))
	for i, stock := range params.Stocks {
		results[i] = pipeline.StockResult{Stock: stock, Status: pipeline.StatusCompleted}
	}
	return fund.Output{ID: "batch-1", Stocks: params.Stocks, Results: results}, nil
}

func newTestHandler(t *testing.T) (*echo.Echo, *service.Service) {
	t.Helper()
	store := newMemStore()
	svc, err := service.New(store, store, okRunner{}, service.Config{}, nil)
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	handler, err := NewHandler(svc, nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	e := echo.New()
	handler.RegisterRoutes(e)
	return e, svc
}

func doJSON(e *echo.Echo, method, target, apiKey, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func registerViaHTTP(t *testing.T, e *echo.Echo) (userID, apiKey string) {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/users", "", `{
		"username": "trader_one",
		"email": "trader@example.com",
		"fund_name": "Alpha Fund"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID     string `json:"id"`
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if resp.APIKey == "" {
		t.Fatal("register response must carry api_key")
	}
	return resp.ID, resp.APIKey
}

func TestCreateUser_DuplicateIsConflict(t *testing.T) {
	e, _ := newTestHandler(t)
	registerViaHTTP(t, e)

	rec := doJSON(e, http.MethodPost, "/users", "", `{
		"username": "trader_one",
		"email": "other@example.com",
		"fund_name": "Beta Fund"
	}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestCreateUser_ValidationIsUnprocessable(t *testing.T) {
	e, _ := newTestHandler(t)

	rec := doJSON(e, http.MethodPost, "/users", "", `{
		"username": "ab",
		"email": "trader@example.com",
		"fund_name": "Alpha Fund"
	}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestAuth_MissingOrUnknownKey(t *testing.T) {
	e, _ := newTestHandler(t)

	if rec := doJSON(e, http.MethodGet, "/trades", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: expected 401, got %d", rec.Code)
	}
	if rec := doJSON(e, http.MethodGet, "/trades", "bogus-key", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown key: expected 401, got %d", rec.Code)
	}
}

func TestCurrentUser(t *testing.T) {
	e, _ := newTestHandler(t)
	userID, apiKey := registerViaHTTP(t, e)

	rec := doJSON(e, http.MethodGet, "/users/me", apiKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var user service.User
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.ID != userID {
		t.Errorf("expected user %s, got %s", userID, user.ID)
	}
}

func TestUpdateUser_PartialViaHTTP(t *testing.T) {
	e, _ := newTestHandler(t)
	_, apiKey := registerViaHTTP(t, e)

	rec := doJSON(e, http.MethodPut, "/users/me", apiKey, `{"fund_name": "Gamma Fund"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var user service.User
	if err := json.Unmarshal(rec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.FundName != "Gamma Fund" {
		t.Errorf("fund name not updated: %s", user.FundName)
	}
	if user.Email != "trader@example.com" {
		t.Errorf("email must be unchanged: %s", user.Email)
	}
}

func TestTradeLifecycleViaHTTP(t *testing.T) {
	e, svc := newTestHandler(t)
	_, apiKey := registerViaHTTP(t, e)

	rec := doJSON(e, http.MethodPost, "/trades", apiKey, `{
		"stocks": ["nvda", "aapl"],
		"task": "evaluate momentum continuation into the quarter",
		"allocation": 10000
	}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d (%s)", rec.Code, rec.Body.String())
	}
	var trade service.Trade
	if err := json.Unmarshal(rec.Body.Bytes(), &trade); err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if trade.Status != service.TradePending {
		t.Errorf("expected pending, got %s", trade.Status)
	}

	svc.Wait()

	rec = doJSON(e, http.MethodGet, "/trades/"+trade.ID, apiKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var final service.Trade
	if err := json.Unmarshal(rec.Body.Bytes(), &final); err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if final.Status != service.TradeCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}

	rec = doJSON(e, http.MethodDelete, "/trades/"+trade.ID, apiKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	if rec = doJSON(e, http.MethodDelete, "/trades/"+trade.ID, apiKey, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestGetTrade_UnknownIsNotFound(t *testing.T) {
	e, _ := newTestHandler(t)
	_, apiKey := registerViaHTTP(t, e)

	if rec := doJSON(e, http.MethodGet, "/trades/no-such-id", apiKey, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCreateTrade_ValidationViaHTTP(t *testing.T) {
	e, _ := newTestHandler(t)
	_, apiKey := registerViaHTTP(t, e)

	rec := doJSON(e, http.MethodPost, "/trades", apiKey, `{
		"stocks": [],
		"task": "evaluate momentum continuation",
		"allocation": 10000
	}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty stocks: expected 422, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/trades", apiKey, `{
		"stocks": ["NVDA"],
		"task": "short",
		"allocation": 10000
	}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("short task: expected 422, got %d", rec.Code)
	}
}

func TestListTrades_BadQueryIsUnprocessable(t *testing.T) {
	e, _ := newTestHandler(t)
	_, apiKey := registerViaHTTP(t, e)

	if rec := doJSON(e, http.MethodGet, "/trades?limit=abc", apiKey, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
	if rec := doJSON(e, http.MethodGet, "/trades?limit=500", apiKey, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestHistoryViaHTTP(t *testing.T) {
	e, svc := newTestHandler(t)
	_, apiKey := registerViaHTTP(t, e)

	rec := doJSON(e, http.MethodPost, "/trades", apiKey, `{
		"stocks": ["nvda"],
		"task": "evaluate momentum continuation into the quarter",
		"allocation": 5000
	}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d", rec.Code)
	}
	svc.Wait()

	rec = doJSON(e, http.MethodGet, "/analytics/history", apiKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var analytics service.HistoryAnalytics
	if err := json.Unmarshal(rec.Body.Bytes(), &analytics); err != nil {
		t.Fatalf("decode analytics: %v", err)
	}
	if analytics.TotalTrades != 1 || analytics.StocksApproved != 1 {
		t.Errorf("unexpected analytics: %+v", analytics)
	}

	if rec = doJSON(e, http.MethodGet, "/analytics/history?days=9999", apiKey, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("days above max: expected 422, got %d", rec.Code)
	}
}
