package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"autohedge/internal/agent"
	"autohedge/internal/market"
)

const validNarrative = "Strong momentum backed by expanding volume and a constructive earnings setup over the next quarter."

type scriptedInvoker struct {
	mu sync.Mutex

	verdicts       []string
	quantResponses []string

	directorPrompts []string
	quantCalls      int
	riskCalls       int
	orderCalls      int

	errRole agent.Role
	err     error
}

func (s *scriptedInvoker) Invoke(_ context.Context, role agent.Role, prompt string, _ interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil && role == s.errRole {
		return "", s.err
	}

	switch role {
	case agent.RoleDirector:
		s.directorPrompts = append(s.directorPrompts, prompt)
		return validNarrative, nil
	case agent.RoleQuant:
		s.quantCalls++
		if len(s.quantResponses) > 0 {
			resp := s.quantResponses[0]
			if len(s.quantResponses) > 1 {
				s.quantResponses = s.quantResponses[1:]
			}
			return resp, nil
		}
		return `{"summary":"momentum confirmed by volume expansion","score":72}`, nil
	case agent.RoleRisk:
		s.riskCalls++
		verdict := "approved"
		if len(s.verdicts) > 0 {
			verdict = s.verdicts[0]
			if len(s.verdicts) > 1 {
				s.verdicts = s.verdicts[1:]
			}
		}
		return `{"verdict":"` + verdict + `","rationale":"position size exceeds volatility budget","position_size_hint":0.4}`, nil
	case agent.RoleExecution:
		s.orderCalls++
		return `{"order_type":"limit","entry":101.5,"stop_loss":95,"take_profit":115,"size":0.25}`, nil
	}
	return "", errors.New("unexpected role")
}

type staticProvider struct {
	err     error
	fetches int
}

func (p *staticProvider) Fetch(_ context.Context, symbol string) (market.Snapshot, error) {
	p.fetches++
	if p.err != nil {
		return market.Snapshot{}, p.err
	}
	return market.Snapshot{
		Symbol:      symbol,
		Quote:       market.Quote{Last: 100.0, Open: 98.0, High: 102.0, Low: 97.5, Volume: 1_000_000},
		RetrievedAt: time.Now().UTC(),
	}, nil
}

func newTestTask() Task {
	return Task{
		Stock:      "nvda",
		Task:       "evaluate momentum continuation into earnings",
		Allocation: 10000,
		RiskLevel:  5,
	}
}

func TestOrchestratorRun_ApprovedAfterRejections(t *testing.T) {
	invoker := &scriptedInvoker{verdicts: []string{"rejected", "rejected", "approved"}}
	orch := New(invoker, &staticProvider{}, Config{MaxRetries: 2}, nil)

	result := orch.Run(context.Background(), newTestTask())

	if result.Status != StatusCompleted {
		t.Fatalf("expected status %s, got %s (reason=%s)", StatusCompleted, result.Status, result.FailureReason)
	}
	if result.Stock != "NVDA" {
		t.Errorf("expected normalized stock NVDA, got %s", result.Stock)
	}
	if result.ThesisAttempts != 3 {
		t.Errorf("expected 3 thesis attempts, got %d", result.ThesisAttempts)
	}
	if result.Order == nil {
		t.Fatal("expected order on approved run")
	}
	if result.Order.OrderType != "limit" {
		t.Errorf("expected limit order, got %s", result.Order.OrderType)
	}
	if len(invoker.directorPrompts) != 3 {
		t.Fatalf("expected 3 director invocations, got %d", len(invoker.directorPrompts))
	}
	if !strings.Contains(invoker.directorPrompts[1], "position size exceeds volatility budget") {
		t.Errorf("expected rejection rationale in retry prompt, got %q", invoker.directorPrompts[1])
	}
	if strings.Contains(invoker.directorPrompts[0], "position size exceeds volatility budget") {
		t.Errorf("first prompt must not carry rejection feedback")
	}
}

func TestOrchestratorRun_RejectionsExhausted(t *testing.T) {
	invoker := &scriptedInvoker{verdicts: []string{"rejected"}}
	orch := New(invoker, &staticProvider{}, Config{MaxRetries: 2}, nil)

	result := orch.Run(context.Background(), newTestTask())

	if result.Status != StatusRejectedExhausted {
		t.Fatalf("expected status %s, got %s", StatusRejectedExhausted, result.Status)
	}
	if result.ThesisAttempts != 3 {
		t.Errorf("expected 3 thesis attempts with max retries 2, got %d", result.ThesisAttempts)
	}
	if result.Order != nil {
		t.Error("rejected run must not carry an order")
	}
	if result.Assessment == nil || result.Assessment.Approved() {
		t.Error("expected final rejected assessment to be retained")
	}
	if invoker.orderCalls != 0 {
		t.Errorf("order stage must not run, got %d calls", invoker.orderCalls)
	}
}

func TestOrchestratorRun_CollaboratorUnavailable(t *testing.T) {
	invoker := &scriptedInvoker{errRole: agent.RoleQuant, err: errors.New("upstream timeout")}
	orch := New(invoker, &staticProvider{}, Config{}, nil)

	result := orch.Run(context.Background(), newTestTask())

	if result.Status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, result.Status)
	}
	if !strings.HasPrefix(result.FailureReason, "quant:") {
		t.Errorf("expected failure reason to name quant stage, got %q", result.FailureReason)
	}
	if result.Thesis == nil {
		t.Error("thesis produced before the failure should be retained")
	}
}

func TestOrchestratorRun_MarketFetchFailure(t *testing.T) {
	provider := &staticProvider{err: market.ErrSymbolNotFound}
	orch := New(&scriptedInvoker{}, provider, Config{}, nil)

	result := orch.Run(context.Background(), newTestTask())

	if result.Status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, result.Status)
	}
	if !strings.HasPrefix(result.FailureReason, "market:") {
		t.Errorf("expected failure reason to name market stage, got %q", result.FailureReason)
	}
	if result.ThesisAttempts != 0 {
		t.Errorf("no thesis attempt expected after market failure, got %d", result.ThesisAttempts)
	}
}

func TestOrchestratorRun_ParseErrorRecoveredOnRetry(t *testing.T) {
	invoker := &scriptedInvoker{
		quantResponses: []string{
			"not a json response at all",
			`{"summary":"clean breakout with rising volume","score":64}`,
		},
	}
	orch := New(invoker, &staticProvider{}, Config{}, nil)

	result := orch.Run(context.Background(), newTestTask())

	if result.Status != StatusCompleted {
		t.Fatalf("expected recovery after one in-place retry, got %s (reason=%s)", result.Status, result.FailureReason)
	}
	if invoker.quantCalls != 2 {
		t.Errorf("expected 2 quant invocations, got %d", invoker.quantCalls)
	}
}

func TestOrchestratorRun_ParseErrorPersistent(t *testing.T) {
	invoker := &scriptedInvoker{quantResponses: []string{"still not json"}}
	orch := New(invoker, &staticProvider{}, Config{}, nil)

	result := orch.Run(context.Background(), newTestTask())

	if result.Status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, result.Status)
	}
	if invoker.quantCalls != 2 {
		t.Errorf("parse failures retry exactly once, got %d quant invocations", invoker.quantCalls)
	}
	if !strings.HasPrefix(result.FailureReason, "quant:") {
		t.Errorf("expected failure reason to name quant stage, got %q", result.FailureReason)
	}
}
