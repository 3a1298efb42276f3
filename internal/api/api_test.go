package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/rewardledger/internal/auth"
	"github.com/punchamoorthee/rewardledger/internal/config"
	"github.com/punchamoorthee/rewardledger/internal/domain"
	"github.com/punchamoorthee/rewardledger/internal/events"
	"github.com/punchamoorthee/rewardledger/internal/service"
	"github.com/punchamoorthee/rewardledger/internal/store/memory"
)

type testServer struct {
	router     http.Handler
	store      *memory.Store
	adminToken string
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	s := memory.New()
	tokens := auth.NewTokenManager("test-secret", "rewardledger", time.Hour)
	log := zap.NewNop()

	h := NewHandler(
		service.NewAccounts(s, tokens, log),
		service.NewWorkflow(s, config.DefaultLedger(), events.Nop{}, log),
		tokens, log, "https://rewards.example.com/",
	)

	admin, err := s.CreateUser(context.Background(), domain.User{Username: "admin", ReferralCode: "ADMIN001", IsAdmin: true})
	require.NoError(t, err)
	token, err := tokens.Issue(domain.Principal{UserID: admin.ID, Username: admin.Username, IsAdmin: true})
	require.NoError(t, err)

	return &testServer{router: h.Router([]string{"https://app.example.com"}), store: s, adminToken: token}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) signup(t *testing.T, username, code string) service.Session {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"username":     username,
		"password":     "secret123",
		"phoneNumber":  "03001234567",
		"referralCode": code,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess service.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	return sess
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	ts := newServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestDepositApprovalFlow(t *testing.T) {
	ts := newServer(t)
	grand := ts.signup(t, "grandparent", "")
	parent := ts.signup(t, "parent", grand.User.ReferralCode)
	child := ts.signup(t, "child", parent.User.ReferralCode)

	rec := ts.do(t, http.MethodPost, "/api/v1/deposits", child.Token, map[string]any{
		"amount":        "20.00",
		"transactionId": "TX-100",
		"method":        "easypaisa",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dep domain.DepositRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dep))
	assert.Equal(t, domain.StatusPending, dep.Status)
	assert.Contains(t, rec.Body.String(), `"localAmount":5600.00`)

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/deposits", ts.adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "TX-100")

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/deposits/decision", ts.adminToken, map[string]any{
		"requestId": dep.ID,
		"decision":  "approve",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/me", child.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":20.00`)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d", parent.User.ID), parent.Token, nil)
	assert.Contains(t, rec.Body.String(), `"balance":2.00`)
	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d/commissions", grand.User.ID), grand.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount":0.80`)
	assert.Contains(t, rec.Body.String(), `"level":2`)

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/deposits/decision", ts.adminToken, map[string]any{
		"requestId": dep.ID,
		"decision":  "reject",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rec)["code"])

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d/team", grand.User.ID), grand.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var team service.TeamView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &team))
	assert.Equal(t, 2, team.Size)
	assert.Equal(t, "New Partner", team.Tier.Name)
}

func TestWithdrawalErrors(t *testing.T) {
	ts := newServer(t)
	user := ts.signup(t, "saver", "")

	rec := ts.do(t, http.MethodPost, "/api/v1/withdrawals", user.Token, map[string]any{
		"amount":        "30.00",
		"method":        "jazzcash",
		"accountTitle":  "Saver",
		"accountNumber": "03001234567",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_funds", decodeError(t, rec)["code"])

	rec = ts.do(t, http.MethodPost, "/api/v1/withdrawals", user.Token, map[string]any{"amount": "-1", "method": "bank"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_amount", decodeError(t, rec)["code"])

	for _, amount := range []string{"184467440737095526.16", "90000000000000000", "1.005"} {
		rec = ts.do(t, http.MethodPost, "/api/v1/deposits", user.Token, map[string]any{
			"amount": amount, "transactionId": "TX-" + amount, "method": "bank",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, amount)
		assert.Equal(t, "invalid_amount", decodeError(t, rec)["code"], amount)
	}
	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d/deposits", user.User.ID), user.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGuards(t *testing.T) {
	ts := newServer(t)
	alice := ts.signup(t, "alice", "")
	bob := ts.signup(t, "bob", "")

	rec := ts.do(t, http.MethodGet, "/api/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec)["code"])

	rec = ts.do(t, http.MethodGet, "/api/v1/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/deposits", alice.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec)["code"])

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d/ledger", bob.User.ID), alice.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d/ledger", bob.User.ID), ts.adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorEnvelope(t *testing.T) {
	ts := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed body", http.MethodPost, "/api/v1/auth/login", "not an object", http.StatusBadRequest, "validation"},
		{"unknown field", http.MethodPost, "/api/v1/auth/login", map[string]string{"user": "x"}, http.StatusBadRequest, "validation"},
		{"bad credentials", http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "ghost", "password": "secret123"}, http.StatusUnauthorized, "unauthorized"},
		{"unknown route", http.MethodGet, "/api/v1/nope", nil, http.StatusNotFound, "not_found"},
		{"short password", http.MethodPost, "/api/v1/auth/signup", map[string]string{
			"username": "newbie", "password": "abc", "phoneNumber": "03001234567",
		}, http.StatusBadRequest, "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, "", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestDuplicateSignupConflicts(t *testing.T) {
	ts := newServer(t)
	ts.signup(t, "dupe", "")

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"username": "dupe", "password": "secret123", "phoneNumber": "03001234567",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeError(t, rec)["code"])
}

func TestMiningClaimReplay(t *testing.T) {
	ts := newServer(t)
	miner := ts.signup(t, "miner", "")
	body := map[string]any{"amount": "10.00", "machineCount": 1}

	rec := ts.do(t, http.MethodPost, "/api/v1/mining/claims", miner.Token, body, "Idempotency-Key", "day-0")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no machines assigned yet")

	machinesPath := fmt.Sprintf("/api/v1/admin/users/%d/machines", miner.User.ID)
	rec = ts.do(t, http.MethodPost, machinesPath, miner.Token, map[string]int{"machines": 5})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, http.MethodPost, machinesPath, ts.adminToken, map[string]int{"machines": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"totalMiners":1`)

	first := ts.do(t, http.MethodPost, "/api/v1/mining/claims", miner.Token, body, "Idempotency-Key", "day-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	replay := ts.do(t, http.MethodPost, "/api/v1/mining/claims", miner.Token, body, "Idempotency-Key", "day-1")
	assert.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())

	other := ts.do(t, http.MethodPost, "/api/v1/mining/claims", miner.Token, body, "Idempotency-Key", "day-2")
	assert.Equal(t, http.StatusConflict, other.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/me", miner.Token, nil)
	assert.Contains(t, rec.Body.String(), `"balance":10.00`)
}

func TestSubmittedFieldsSanitizedOnce(t *testing.T) {
	ts := newServer(t)
	user := ts.signup(t, "depositor", "")

	rec := ts.do(t, http.MethodPost, "/api/v1/deposits", user.Token, map[string]any{
		"amount":        "5.00",
		"transactionId": " <<b>>TX-7 ",
		"method":        "bank",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var dep domain.DepositRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dep))
	assert.Equal(t, "bTX-7", dep.TransactionRef)
}

func TestReferralQR(t *testing.T) {
	ts := newServer(t)
	user := ts.signup(t, "sharer", "")

	rec := ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/users/%d/referral-qr", user.User.ID), user.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestSignupLink(t *testing.T) {
	h := &Handler{publicURL: "https://rewards.example.com/"}
	assert.Equal(t, "https://rewards.example.com/signup?ref=AB12CD34", h.signupLink("AB12CD34"))
}

func TestBonusTiers(t *testing.T) {
	ts := newServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/bonus-tiers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Consultant")
}

func TestCORS(t *testing.T) {
	ts := newServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/deposits", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, errorStatus(domain.KindInvalidAmount))
	assert.Equal(t, http.StatusConflict, errorStatus(domain.KindInvalidState))
	assert.Equal(t, http.StatusServiceUnavailable, errorStatus(domain.KindCodeGeneration))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(domain.KindReferralCycle))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(domain.KindInternal))
}
