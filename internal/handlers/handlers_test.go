package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablep2p/backend/internal/config"
	"github.com/stablep2p/backend/internal/events"
	"github.com/stablep2p/backend/internal/hsm"
	mW "github.com/stablep2p/backend/internal/middleware"
	"github.com/stablep2p/backend/internal/services"
	"github.com/stablep2p/backend/internal/store"
)

type lastCode struct {
	mu   sync.Mutex
	code string
}

func (l *lastCode) SendCode(ctx context.Context, d events.CodeDelivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.code = d.Code
	return nil
}

func (l *lastCode) get() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.code
}

type testServer struct {
	router http.Handler
	codes  *lastCode
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	viper.Set("jwt.secret_key", "handler-test-secret")
	t.Cleanup(viper.Reset)

	st := store.NewMemoryStore()
	metrics := services.NewMetrics(prometheus.NewRegistry())
	rec := events.NewRecorder()
	ledger := services.NewLedgerService(st, rec, metrics)

	h, err := hsm.InitHSM(hsm.Config{
		MasterKey:  "handler-test-key",
		HashParams: &hsm.HashParams{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32},
	})
	require.NoError(t, err)

	viper.Set("withdrawal.networks", "TRC20")
	codes := &lastCode{}
	withdrawals := services.NewWithdrawalService(st, ledger, h, codes, rec, config.LoadWithdrawalConfig(), metrics)

	api := NewAPI(ledger, services.NewOfferService(st), services.NewTradeService(st, ledger, rec, metrics), withdrawals)
	r := chi.NewRouter()
	r.Route("/api/v1", api.Routes)

	s := &testServer{router: r, codes: codes, tokens: map[string]string{}}
	for user, role := range map[string]string{"seller": "", "buyer": "", "ops": mW.RoleAdmin} {
		token, err := mW.IssueToken(user, role, time.Hour)
		require.NoError(t, err)
		s.tokens[user] = token
	}
	return s
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *testServer) do(t *testing.T, user, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func idOf(t *testing.T, env envelope) string {
	t.Helper()
	var v struct {
		ID        string `json:"id"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &v))
	if v.ID != "" {
		return v.ID
	}
	return v.RequestID
}

func (s *testServer) seed(t *testing.T) string {
	t.Helper()
	code, _ := s.do(t, "ops", http.MethodPost, "/admin/deposits", map[string]any{
		"user_id": "seller", "asset": "usdt", "network": "trc20", "amount": "1000", "reference": "chain-tx-1",
	})
	require.Equal(t, http.StatusCreated, code)

	code, env := s.do(t, "seller", http.MethodPost, "/offers", map[string]any{
		"asset": "USDT", "network": "TRC20", "fiat_currency": "EUR",
		"unit_price": "5.50", "total_amount": "1000", "min_limit": "10", "max_limit": "500",
		"payment_methods": []string{"SEPA"},
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	return idOf(t, env)
}

func TestTradeFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	offerID := s.seed(t)

	code, env := s.do(t, "", http.MethodGet, "/offers?asset=usdt", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), offerID)

	code, env = s.do(t, "buyer", http.MethodPost, "/trades", map[string]any{"offer_id": offerID, "amount": "100"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	tradeID := idOf(t, env)
	assert.Contains(t, string(env.Data), `"fiat_amount":"550"`)

	code, _ = s.do(t, "buyer", http.MethodPost, "/trades/"+tradeID+"/paid", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(t, "seller", http.MethodPost, "/trades/"+tradeID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.NotEmpty(t, env.Error)

	code, _ = s.do(t, "seller", http.MethodPost, "/trades/"+tradeID+"/release", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(t, "buyer", http.MethodGet, "/wallets", nil)
	require.Equal(t, http.StatusOK, code)
	var accounts []struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "100", accounts[0].Balance)

	code, env = s.do(t, "buyer", http.MethodGet, "/trades/"+tradeID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"COMPLETED"`)

	code, env = s.do(t, "buyer", http.MethodGet, "/wallets/entries?reference="+tradeID, nil)
	require.Equal(t, http.StatusOK, code)
	var buyerView []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &buyerView))
	require.Len(t, buyerView, 1)
	assert.Equal(t, "TRANSFER", buyerView[0]["kind"])
	assert.NotContains(t, buyerView[0], "balance_after")
	assert.NotContains(t, buyerView[0], "locked_after")
	assert.Equal(t, "100", buyerView[0]["counter_balance_after"])

	code, env = s.do(t, "seller", http.MethodGet, "/wallets/entries?reference="+tradeID, nil)
	require.Equal(t, http.StatusOK, code)
	var sellerView []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &sellerView))
	require.Len(t, sellerView, 2)
	assert.Equal(t, "900", sellerView[0]["balance_after"])
	assert.NotContains(t, sellerView[0], "counter_balance_after")
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	offerID := s.seed(t)

	tests := []struct {
		name   string
		user   string
		method string
		path   string
		body   any
		status int
	}{
		{"no token", "", http.MethodGet, "/wallets", nil, http.StatusUnauthorized},
		{"unknown trade", "buyer", http.MethodGet, "/trades/7d2c6a6e-0000-4000-8000-000000000000", nil, http.StatusNotFound},
		{"above offer limit", "buyer", http.MethodPost, "/trades", map[string]any{"offer_id": offerID, "amount": "600"}, http.StatusUnprocessableEntity},
		{"negative amount", "buyer", http.MethodPost, "/trades", map[string]any{"offer_id": offerID, "amount": "-5"}, http.StatusBadRequest},
		{"unknown field", "buyer", http.MethodPost, "/trades", map[string]any{"offer_id": offerID, "amount": "5", "price": "1"}, http.StatusBadRequest},
		{"foreign offer", "buyer", http.MethodPost, "/offers/" + offerID + "/deactivate", nil, http.StatusForbidden},
		{"admin only", "buyer", http.MethodGet, "/admin/ledger/entries", nil, http.StatusForbidden},
		{"bad address", "seller", http.MethodPost, "/withdrawals", map[string]any{"asset": "USDT", "network": "TRC20", "address": "0x0000000000000000000000000000000000000000", "amount": "10"}, http.StatusBadRequest},
		{"unsupported network", "seller", http.MethodPost, "/withdrawals", map[string]any{"asset": "USDT", "network": "DOGE", "address": "DQ1vnq5vGnMCm9yC9zq6nXwJAQ3r8k8nNn", "amount": "10"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := s.do(t, tt.user, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, code)
		})
	}
}

func TestDisputeResolutionOverHTTP(t *testing.T) {
	s := newTestServer(t)
	offerID := s.seed(t)

	code, env := s.do(t, "buyer", http.MethodPost, "/trades", map[string]any{"offer_id": offerID, "amount": "50"})
	require.Equal(t, http.StatusCreated, code)
	tradeID := idOf(t, env)

	code, _ = s.do(t, "buyer", http.MethodPost, "/trades/"+tradeID+"/dispute", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, "seller", http.MethodPost, "/admin/trades/"+tradeID+"/resolve", map[string]string{"outcome": "SELLER_WINS"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, "ops", http.MethodPost, "/admin/trades/"+tradeID+"/resolve", map[string]string{"outcome": "BUYER_WINS"})
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, "ops", http.MethodPost, "/admin/trades/"+tradeID+"/resolve", map[string]string{"outcome": "BUYER_WINS"})
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(t, "ops", http.MethodGet, "/admin/ledger/entries?reference="+tradeID, nil)
	require.Equal(t, http.StatusOK, code)
	var entries []struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "TRANSFER", entries[0].Kind)
	assert.Equal(t, "LOCK", entries[1].Kind)
}

func TestWithdrawalOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	code, env := s.do(t, "seller", http.MethodPost, "/withdrawals", map[string]any{
		"asset": "USDT", "network": "TRC20", "address": "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8", "amount": "100",
	})
	require.Equal(t, http.StatusAccepted, code, env.Error)
	requestID := idOf(t, env)

	bad := "000000"
	if s.codes.get() == bad {
		bad = "111111"
	}
	code, _ = s.do(t, "seller", http.MethodPost, "/withdrawals/"+requestID+"/confirm", map[string]string{"code": bad})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, "buyer", http.MethodGet, "/withdrawals/"+requestID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, "seller", http.MethodGet, "/withdrawals/"+requestID, nil)
	require.Equal(t, http.StatusOK, code)
	var status struct {
		AddressQR string `json:"addressQr"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.NotEmpty(t, status.AddressQR)
	assert.NotContains(t, string(env.Data), "code_hash")

	code, _ = s.do(t, "seller", http.MethodPost, "/withdrawals/"+requestID+"/confirm", map[string]string{"code": s.codes.get()})
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, "seller", http.MethodPost, "/withdrawals/"+requestID+"/confirm", map[string]string{"code": s.codes.get()})
	assert.Equal(t, http.StatusConflict, code)
}
