package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/finsim/game-engine/internal/auction"
	"github.com/finsim/game-engine/internal/auth"
	"github.com/finsim/game-engine/internal/events"
	"github.com/finsim/game-engine/internal/ledger"
	"github.com/finsim/game-engine/internal/model"
	"github.com/finsim/game-engine/internal/round"
	"github.com/finsim/game-engine/internal/store"
	"github.com/finsim/game-engine/internal/team"
)

const testAdminToken = "admin-secret"

type testEnv struct {
	router http.Handler
	store  *store.MemoryStore
	events *events.Recorder
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	rec := &events.Recorder{}
	hasher := auth.NewHasher(bcrypt.MinCost)
	l := ledger.New(ms, nil)

	adminHash, err := hasher.Hash("letmein")
	require.NoError(t, err)

	srv := NewServer(Deps{
		Teams:              team.NewService(ms, hasher, nil),
		Ledger:             l,
		Rounds:             round.NewService(ms, l, rec, round.Config{}, nil),
		Auction:            auction.NewService(l, nil, rec, nil),
		Admin:              auth.NewAdmin(testAdminToken, adminHash, hasher),
		Events:             rec,
		LoginRatePerMinute: 3,
	})
	return &testEnv{router: srv.Router(), store: ms, events: rec, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, name string) model.Team {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/teams/register", team.RegisterRequest{Name: name, Password: "pass1234"}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got model.Team
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "Bulls")
	assert.True(t, registered.Portfolio.Cash.Equal(model.StartingCash))
	assert.NotContains(t, env.do(t, "GET", "/api/v1/teams/"+registered.ID, nil, false).Body.String(), "credential")

	w := env.do(t, "POST", "/api/v1/teams/register", team.RegisterRequest{Name: "BULLS", Password: "pass1234"}, false)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/api/v1/teams/login", LoginRequest{Name: "bulls", Password: "pass1234"}, false)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, "POST", "/api/v1/teams/login", LoginRequest{Name: "bulls", Password: "nope"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "Bulls")

	for i := 0; i < 3; i++ {
		w := env.do(t, "POST", "/api/v1/teams/login", LoginRequest{Name: "Bulls", Password: "wrong"}, false)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := env.do(t, "POST", "/api/v1/teams/login", LoginRequest{Name: "Bulls", Password: "pass1234"}, false)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestInvest(t *testing.T) {
	env := newTestEnv(t)
	tm := env.register(t, "Bulls")
	path := "/api/v1/teams/" + tm.ID + "/invest"

	w := env.do(t, "POST", path, map[string]any{"investments": map[string]any{"gold": "100000", "crypto": 50000, "fd": 0}}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeBody[model.Team](t, w)
	assert.True(t, got.Portfolio.Cash.Equal(decimal.NewFromInt(350000)))
	assert.True(t, got.Portfolio.Crypto.Equal(decimal.NewFromInt(50000)))
	assert.True(t, got.TotalValue.Equal(model.StartingCash))

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"over cash", map[string]any{"investments": map[string]any{"stocks": 400000}}, http.StatusUnprocessableEntity},
		{"cash is not investable", map[string]any{"investments": map[string]any{"cash": 10}}, http.StatusBadRequest},
		{"unknown asset", map[string]any{"investments": map[string]any{"bonds": 10}}, http.StatusBadRequest},
		{"negative", map[string]any{"investments": map[string]any{"gold": -5}}, http.StatusBadRequest},
		{"all zero", map[string]any{"investments": map[string]any{"gold": 0}}, http.StatusBadRequest},
		{"malformed", "not json", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, "POST", path, tc.body, false)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	w = env.do(t, "POST", "/api/v1/teams/ghost/invest", map[string]any{"investments": map[string]any{"gold": 1}}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransfer(t *testing.T) {
	env := newTestEnv(t)
	tm := env.register(t, "Bulls")
	path := "/api/v1/teams/" + tm.ID + "/transfer"

	w := env.do(t, "POST", path, TransferRequest{From: "cash", To: "realEstate", Amount: decimal.NewFromInt(1000)}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeBody[model.Team](t, w)
	assert.True(t, got.Portfolio.RealEstate.Equal(decimal.NewFromInt(1000)))

	w = env.do(t, "POST", path, TransferRequest{From: "gold", To: "cash", Amount: decimal.NewFromInt(1)}, false)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = env.do(t, "POST", path, TransferRequest{From: "cash", To: "cash", Amount: decimal.NewFromInt(1)}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, "POST", path, TransferRequest{From: "cash", To: "yen", Amount: decimal.NewFromInt(1)}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/admin/rounds", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "POST", "/api/v1/admin/login", AdminLoginRequest{Password: "letmein"}, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testAdminToken, decodeBody[map[string]string](t, w)["token"])

	w = env.do(t, "POST", "/api/v1/admin/login", AdminLoginRequest{Password: "guess"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoundLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tm := env.register(t, "Bulls")

	w := env.do(t, "GET", "/api/v1/rounds/current", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodeBody[CurrentRoundResponse](t, w).Round)

	w = env.do(t, "POST", "/api/v1/admin/rounds", map[string]any{"duration": 2}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, "GET", "/api/v1/rounds/current", nil, false)
	current := decodeBody[CurrentRoundResponse](t, w)
	require.NotNil(t, current.Round)
	assert.Equal(t, 1, current.Round.RoundNumber)
	assert.InDelta(t, 120, current.RemainingSeconds, 2)

	w = env.do(t, "POST", "/api/v1/teams/"+tm.ID+"/invest", map[string]any{"investments": map[string]any{"gold": 100000}}, false)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "POST", "/api/v1/admin/news", NewsRequest{Title: "Gold rallies", Content: "Central banks buy"}, true)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, "POST", "/api/v1/admin/prices", map[string]any{"gold": 10}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, "POST", "/api/v1/admin/prices", map[string]any{"cash": 10}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/v1/admin/rounds/end", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[round.Result](t, w)
	require.Len(t, res.Leaderboard, 1)
	assert.True(t, res.Leaderboard[0].PortfolioValue.Equal(decimal.NewFromInt(510000)))

	w = env.do(t, "POST", "/api/v1/admin/rounds/end", nil, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "GET", "/api/v1/rounds/1", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.RoundEnded, decodeBody[model.Round](t, w).Status)

	w = env.do(t, "GET", "/api/v1/rounds/1/leaderboard", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[model.LeaderboardSnapshot](t, w).Entries, 1)

	w = env.do(t, "GET", "/api/v1/rounds/abc", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, "GET", "/api/v1/rounds/9", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNoActiveRoundIsConflict(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/admin/news", NewsRequest{Title: "a", Content: "b"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, "POST", "/api/v1/admin/rounds/end", nil, true)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeductAndRecalculate(t *testing.T) {
	env := newTestEnv(t)
	tm := env.register(t, "Bulls")

	w := env.do(t, "POST", "/api/v1/admin/teams/"+tm.ID+"/deduct", AmountRequest{Amount: decimal.NewFromInt(2500)}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decodeBody[model.Team](t, w).Portfolio.Cash.Equal(decimal.NewFromInt(497500)))

	w = env.do(t, "POST", "/api/v1/admin/teams/"+tm.ID+"/deduct", AmountRequest{Amount: decimal.NewFromInt(600000)}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, "POST", "/api/v1/admin/recalculate", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[RecalculateResponse](t, w)
	require.Len(t, resp.Leaderboard, 1)
	assert.True(t, resp.Leaderboard[0].PortfolioValue.Equal(decimal.NewFromInt(497500)))
	assert.Len(t, env.events.OfType(events.TypeLeaderboard), 1)
}

func TestAuctionFlow(t *testing.T) {
	env := newTestEnv(t)
	tm := env.register(t, "Bulls")

	w := env.do(t, "POST", "/api/v1/admin/auction/award", AwardRequest{TeamID: tm.ID, ItemID: "rolex-daytona"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/api/v1/admin/auction/start", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "POST", "/api/v1/admin/auction/current", ItemRequest{ItemID: "sports-car"}, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/v1/auction", nil, false)
	st := decodeBody[auction.State](t, w)
	assert.True(t, st.Active)
	assert.Equal(t, "sports-car", st.CurrentItem.ID)

	w = env.do(t, "POST", "/api/v1/admin/auction/award", AwardRequest{TeamID: tm.ID, ItemID: "sports-car"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeBody[model.Team](t, w)
	assert.True(t, got.Portfolio.Cash.Equal(decimal.NewFromInt(350000)))
	assert.Len(t, got.AuctionItems, 1)
	assert.Len(t, env.events.OfType(events.TypeAuctionWin), 1)

	w = env.do(t, "POST", "/api/v1/admin/auction/end", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeBody[auction.State](t, w).Active)
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "Bulls")
	env.do(t, "POST", "/api/v1/admin/auction/start", nil, true)

	w := env.do(t, "POST", "/api/v1/admin/reset", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	teams, err := env.store.ListTeams(context.Background())
	require.NoError(t, err)
	assert.Empty(t, teams)
	w = env.do(t, "GET", "/api/v1/auction", nil, false)
	assert.False(t, decodeBody[auction.State](t, w).Active)
}

func TestSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "Bulls")
	env.do(t, "POST", "/api/v1/admin/rounds", nil, true)
	env.do(t, "POST", "/api/v1/admin/news", NewsRequest{Title: "Gold rallies", Content: "Central banks buy"}, true)

	var types []string
	for _, e := range env.server.Snapshot()(context.Background()) {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		events.TypeRound, events.TypePrices, events.TypeNews, events.TypeLeaderboard, events.TypeAuction,
	}, types)
}

func TestHealthAndCORS(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "OPTIONS", "/api/v1/teams/register", nil, false)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
