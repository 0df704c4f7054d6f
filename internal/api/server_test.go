package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthill-platform/anthill-market/internal/access"
	"github.com/anthill-platform/anthill-market/internal/config"
	"github.com/anthill-platform/anthill-market/internal/testenv"
)

const (
	alice int64 = 100
	bob   int64 = 200
)

type apiTest struct {
	env     *testenv.Env
	handler http.Handler
	signer  *access.Signer
}

func newAPITest(t *testing.T) *apiTest {
	t.Helper()

	env := testenv.New(t)
	signer, err := access.NewSigner("test-secret")
	require.NoError(t, err)

	srv := NewServer(Options{
		Config:   config.APIConfig{ShutdownTimeout: time.Second},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Signer:   signer,
		Clock:    env.Clock,
		Metrics:  env.Metrics,
		Version:  "test",
		Registry: env.Registry,
		Ledger:   env.Ledger,
		Orders:   env.Orders,
		Matcher:  env.Matcher,
		Journal:  env.Journal,
	})
	return &apiTest{env: env, handler: srv.Handler(), signer: signer}
}

func (a *apiTest) token(t *testing.T, account int64, scopes ...string) string {
	t.Helper()
	raw, err := a.signer.Sign(access.Token{
		Gamespace: testenv.Tenant,
		Account:   account,
		Scopes:    scopes,
		Exp:       a.env.Clock.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return raw
}

func (a *apiTest) playerToken(t *testing.T, account int64) string {
	t.Helper()
	return a.token(t, account, access.ScopeMarket, access.ScopeUpdateItem, access.ScopePostOrder)
}

func (a *apiTest) do(t *testing.T, method, path, token string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func TestAuth(t *testing.T) {
	a := newAPITest(t)
	a.env.CreateMarket("main")

	rec := a.do(t, http.MethodGet, "/markets/main", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/markets/main", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Right token, wrong scopes.
	rec = a.do(t, http.MethodGet, "/markets", a.playerToken(t, alice), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Expired token.
	expired, err := a.signer.Sign(access.Token{
		Gamespace: testenv.Tenant, Account: alice,
		Scopes: []string{access.ScopeMarket},
		Exp:    a.env.Clock.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)
	rec = a.do(t, http.MethodGet, "/markets/main", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The token is also accepted as a query parameter.
	rec = a.do(t, http.MethodGet, "/markets/main?access_token="+url.QueryEscape(a.playerToken(t, alice)), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestItemEndpoints(t *testing.T) {
	a := newAPITest(t)
	a.env.CreateMarket("main")
	token := a.playerToken(t, alice)

	rec := a.do(t, http.MethodPost, "/markets/main/items/coin", token, url.Values{"amount": {"10"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/markets/main/items/coin", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 10, decodeJSON(t, rec)["amount"])

	// Batch update, one entry with a payload.
	rec = a.do(t, http.MethodPost, "/markets/main/items", token, url.Values{
		"items": {`[{"name":"coin","amount":-4},{"name":"sword","amount":1,"payload":{"quality":"sharp"}}]`},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/markets/main/items", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeJSON(t, rec)["items"].([]interface{})
	assert.Len(t, items, 2)

	// Overdraw is rejected without applying anything.
	rec = a.do(t, http.MethodPost, "/markets/main/items/coin", token, url.Values{"amount": {"-100"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = a.do(t, http.MethodGet, "/markets/main/items/coin", token, nil)
	assert.EqualValues(t, 6, decodeJSON(t, rec)["amount"])

	// Amount is mandatory.
	rec = a.do(t, http.MethodPost, "/markets/main/items/coin", token, url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown market.
	rec = a.do(t, http.MethodGet, "/markets/other/items/coin", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// An item never owned reads as not found.
	rec = a.do(t, http.MethodGet, "/markets/main/items/unknown", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderFlow(t *testing.T) {
	a := newAPITest(t)
	m := a.env.CreateMarket("main")
	aliceToken := a.playerToken(t, alice)
	bobToken := a.playerToken(t, bob)

	a.env.Give(alice, m.ID, "bread", 10, nil)
	a.env.Give(bob, m.ID, "coin", 6, nil)

	deadline := strconv.FormatInt(a.env.Clock.Now().Add(time.Hour).Unix(), 10)

	rec := a.do(t, http.MethodPost, "/markets/main/orders", aliceToken, url.Values{
		"give_item":     {"bread"},
		"give_amount":   {"5"},
		"take_item":     {"coin"},
		"take_amount":   {"3"},
		"orders_amount": {"2"},
		"deadline":      {deadline},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	posted := decodeJSON(t, rec)
	assert.Equal(t, false, posted["fulfilled_immediately"])
	orderID := posted["order_id"].(string)

	rec = a.do(t, http.MethodGet, "/markets/main/orders/"+orderID, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decodeJSON(t, rec)
	assert.Equal(t, "bread", order["give_item"])
	assert.EqualValues(t, 2, order["available"])

	rec = a.do(t, http.MethodGet, "/markets/main/orders?take_item=coin&count=true", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decodeJSON(t, rec)
	assert.EqualValues(t, 1, listing["total"])
	assert.Len(t, listing["orders"].([]interface{}), 1)

	rec = a.do(t, http.MethodGet, "/markets/main/orders/my", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON(t, rec)["orders"].([]interface{}), 1)

	// Bob takes one of the two lots at the posted price.
	rec = a.do(t, http.MethodPost, "/markets/main/orders/"+orderID+"/fulfill", bobToken, url.Values{
		"amount": {"1"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fulfilled := decodeJSON(t, rec)
	assert.Equal(t, false, fulfilled["fulfilled_completely"])
	a.env.RequireBalance(bob, m.ID, "bread", nil, 5)
	a.env.RequireBalance(alice, m.ID, "coin", nil, 3)

	// A second lot is beyond Bob's remaining coin.
	rec = a.do(t, http.MethodPost, "/markets/main/orders/"+orderID+"/fulfill", bobToken, url.Values{
		"amount": {"2"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The trade shows in the history.
	rec = a.do(t, http.MethodGet, "/markets/main/transactions?give_item=coin&take_item=bread", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeJSON(t, rec)["history"].([]interface{})
	require.Len(t, history, 1)
	day := history[0].(map[string]interface{})
	assert.Equal(t, "2025-06-01", day["date"])
	assert.EqualValues(t, 1, day["amount"])

	// Alice cancels the rest; cancelling again reports it gone.
	rec = a.do(t, http.MethodPost, "/markets/main/orders/"+orderID+"/delete", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a.env.RequireBalance(alice, m.ID, "bread", nil, 5)
	rec = a.do(t, http.MethodPost, "/markets/main/orders/"+orderID+"/delete", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderPostMatchesImmediately(t *testing.T) {
	a := newAPITest(t)
	m := a.env.CreateMarket("main")

	a.env.Give(alice, m.ID, "bread", 5, nil)
	a.env.Give(bob, m.ID, "coin", 3, nil)
	a.env.PostOrder(alice, m.ID, "bread", 5, nil, "coin", 3, nil, 1)

	deadline := strconv.FormatInt(a.env.Clock.Now().Add(time.Hour).Unix(), 10)
	rec := a.do(t, http.MethodPost, "/markets/main/orders", a.playerToken(t, bob), url.Values{
		"give_item":   {"coin"},
		"give_amount": {"3"},
		"take_item":   {"bread"},
		"take_amount": {"5"},
		"deadline":    {deadline},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeJSON(t, rec)["fulfilled_immediately"])
	a.env.RequireBalance(bob, m.ID, "bread", nil, 5)
}

func TestOrderUpdateRejectsEscrowedFields(t *testing.T) {
	a := newAPITest(t)
	m := a.env.CreateMarket("main")
	a.env.Give(alice, m.ID, "bread", 5, nil)
	orderID := a.env.PostOrder(alice, m.ID, "bread", 5, nil, "coin", 3, nil, 1)
	token := a.playerToken(t, alice)
	path := "/markets/main/orders/" + strconv.FormatInt(orderID, 10)

	for _, field := range []string{"give_item", "give_payload", "give_amount", "take_amount", "orders_amount"} {
		rec := a.do(t, http.MethodPost, path, token, url.Values{field: {"1"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "field %s", field)
	}

	// The demand side is editable.
	rec := a.do(t, http.MethodPost, path, token, url.Values{"take_item": {"gold"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := a.do(t, http.MethodGet, path, token, nil)
	assert.Equal(t, "gold", decodeJSON(t, got)["take_item"])
}

func TestGetOrderFromWrongMarket(t *testing.T) {
	a := newAPITest(t)
	m1 := a.env.CreateMarket("first")
	a.env.CreateMarket("second")

	a.env.Give(alice, m1.ID, "bread", 5, nil)
	orderID := a.env.PostOrder(alice, m1.ID, "bread", 5, nil, "coin", 3, nil, 1)

	rec := a.do(t, http.MethodGet, "/markets/second/orders/"+strconv.FormatInt(orderID, 10),
		a.playerToken(t, alice), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	a := newAPITest(t)
	admin := a.token(t, 1, access.ScopeAdmin)

	rec := a.do(t, http.MethodPost, "/markets", admin, url.Values{
		"name":     {"main"},
		"settings": {`{"currency":"coin"}`},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Duplicate name conflicts.
	rec = a.do(t, http.MethodPost, "/markets", admin, url.Values{"name": {"main"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/markets", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	markets := decodeJSON(t, rec)["markets"].([]interface{})
	require.Len(t, markets, 1)
	assert.Equal(t, "main", markets[0].(map[string]interface{})["name"])

	rec = a.do(t, http.MethodPost, "/markets/main/settings", admin, url.Values{
		"settings": {`{"currency":"gold"}`},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	player := a.token(t, alice, access.ScopeMarket)
	rec = a.do(t, http.MethodGet, "/markets/main", player, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decodeJSON(t, rec)["settings"].(map[string]interface{})
	assert.Equal(t, "gold", settings["currency"])

	rec = a.do(t, http.MethodPost, "/markets/main/delete", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/markets/main", player, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountsDeleted(t *testing.T) {
	a := newAPITest(t)
	m := a.env.CreateMarket("main")
	admin := a.token(t, 1, access.ScopeAdmin)

	a.env.Give(alice, m.ID, "bread", 10, nil)
	orderID := a.env.PostOrder(alice, m.ID, "bread", 5, nil, "coin", 3, nil, 1)

	rec := a.do(t, http.MethodPost, "/accounts/delete", admin, url.Values{
		"accounts": {"[100]"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/markets/main/orders/"+strconv.FormatInt(orderID, 10),
		a.playerToken(t, bob), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodPost, "/accounts/delete", admin, url.Values{"accounts": {"not json"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndVersion(t *testing.T) {
	a := newAPITest(t)

	rec := a.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeJSON(t, rec)["status"])

	rec = a.do(t, http.MethodGet, "/version", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", decodeJSON(t, rec)["version"])
}
