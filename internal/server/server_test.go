package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/aaoferreira/vault-v2/internal/auction"
	"github.com/aaoferreira/vault-v2/internal/auth"
	"github.com/aaoferreira/vault-v2/internal/cauldron"
	"github.com/aaoferreira/vault-v2/internal/observability"
	"github.com/aaoferreira/vault-v2/internal/server"
	"github.com/aaoferreira/vault-v2/internal/testutil"
)

var testVault = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

// newTestServer builds the full router over an engine with fakes: one
// undercollateralized vault (100e18 ETH / 100000e6 DAI), a configured line
// and limit, and "secret" as the only admin token.
func newTestServer(t *testing.T) (*httptest.Server, *testutil.FakeLedger, *testutil.Clock) {
	t.Helper()

	ledger := testutil.NewFakeLedger()
	ledger.Params["DAI"] = cauldron.DebtParams{Min: 5000, Decimals: 6}
	ledger.AddVault(testVault, cauldron.Vault{
		Owner: "alice", CollateralID: "ETH", BaseID: "DAI", SeriesID: "FYDAI2609",
	}, uint256.MustFromDecimal("100000000000000000000"), uint256.NewInt(100_000_000_000))
	ledger.Under[testVault] = true

	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	engine := auction.NewEngine(auction.Config{
		Ledger:  ledger,
		Joins:   testutil.NewFakeJoins(),
		Token:   &testutil.FakeToken{},
		Account: "witch",
		Emitter: &testutil.CollectEmitter{},
		Logger:  zerolog.Nop(),
		Now:     clock.Now,
	})

	key := auction.Key{CollateralID: "ETH", BaseID: "DAI"}
	if err := engine.SetLine(key, auction.Line{
		Duration:     time.Hour,
		InitialOffer: uint256.NewInt(714_000_000_000_000_000),
		Proportion:   uint256.NewInt(500_000_000_000_000_000),
	}); err != nil {
		t.Fatalf("SetLine: %v", err)
	}
	engine.SetLimit(key, uint256.MustFromDecimal("1000000000000000000000"))

	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := server.New(":0", &server.Deps{
		Engine: engine,
		Health: health,
		Caps:   auth.NewCapabilities([]string{"secret"}),
		Logger: zerolog.Nop(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, ledger, clock
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

// ============================================================================
// Test: auction lifecycle over HTTP
// ============================================================================

func TestHTTP_OpenAndGet(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/auctions/"+testVault.String(), "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open status: got %d, want 201", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["ink"] != "50000000000000000000" || body["art"] != "50000000000" {
		t.Errorf("open body: %v", body)
	}

	resp, err = http.Get(ts.URL + "/v1/auctions/" + testVault.String())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status: got %d, want 200", resp.StatusCode)
	}
	body = decode(t, resp)
	if body["owner"] != "alice" {
		t.Errorf("get body: %v", body)
	}
}

func TestHTTP_OpenConflict(t *testing.T) {
	ts, _, _ := newTestServer(t)

	url := ts.URL + "/v1/auctions/" + testVault.String()
	if resp, err := http.Post(url, "application/json", nil); err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("first open: %v %v", err, resp.StatusCode)
	}

	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status: got %d, want 409", resp.StatusCode)
	}
	if body := decode(t, resp); body["code"] != "VaultAlreadyAuctioned" {
		t.Errorf("code: %v", body["code"])
	}
}

func TestHTTP_GetUnknownVault(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/auctions/" + uuid.NewString())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
	if body := decode(t, resp); body["code"] != "VaultNotAuctioned" {
		t.Errorf("code: %v", body["code"])
	}
}

func TestHTTP_BadVaultID(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/auctions/not-a-uuid", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestHTTP_QuoteAndBuy(t *testing.T) {
	ts, _, clock := newTestServer(t)

	url := ts.URL + "/v1/auctions/" + testVault.String()
	if resp, err := http.Post(url, "application/json", nil); err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("open: %v %v", err, resp.StatusCode)
	}
	clock.Advance(time.Hour)

	resp, err := http.Get(url + "/quote?art=50000000000")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if body := decode(t, resp); body["ink_out"] != "50000000000000000000" {
		t.Errorf("quote: %v", body)
	}

	buy, _ := json.Marshal(map[string]string{
		"buyer":       "bob",
		"receiver":    "carol",
		"min_ink_out": "0",
		"max_in":      "50000000000",
	})
	resp, err = http.Post(url+"/buy/debt-token", "application/json", bytes.NewReader(buy))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy status: got %d, want 200", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["ink_out"] != "50000000000000000000" || body["token_in"] != "50000000000" {
		t.Errorf("buy body: %v", body)
	}

	// Fully settled: the record is gone.
	resp, err = http.Get(url)
	if err != nil {
		t.Fatalf("get after buy: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after full settle: got %d, want 404", resp.StatusCode)
	}
}

func TestHTTP_CancelRecovered(t *testing.T) {
	ts, ledger, _ := newTestServer(t)

	url := ts.URL + "/v1/auctions/" + testVault.String()
	if resp, err := http.Post(url, "application/json", nil); err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("open: %v %v", err, resp.StatusCode)
	}
	ledger.Under[testVault] = false

	req, _ := http.NewRequest(http.MethodDelete, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status: got %d, want 204", resp.StatusCode)
	}
	if ledger.Custody[testVault] != "alice" {
		t.Errorf("custody: got %q", ledger.Custody[testVault])
	}
}

// ============================================================================
// Test: admin surface
// ============================================================================

func adminPut(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPut, url, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	return resp
}

func TestHTTP_AdminRequiresToken(t *testing.T) {
	ts, _, _ := newTestServer(t)
	url := ts.URL + "/v1/admin/limits/ETH/DAI"

	if resp := adminPut(t, url, "", `{"max":"1"}`); resp.StatusCode != http.StatusForbidden {
		t.Errorf("no token: got %d, want 403", resp.StatusCode)
	}
	if resp := adminPut(t, url, "wrong", `{"max":"1"}`); resp.StatusCode != http.StatusForbidden {
		t.Errorf("wrong token: got %d, want 403", resp.StatusCode)
	}
	if resp := adminPut(t, url, "secret", `{"max":"1"}`); resp.StatusCode != http.StatusNoContent {
		t.Errorf("valid token: got %d, want 204", resp.StatusCode)
	}
}

func TestHTTP_AdminSetLineValidation(t *testing.T) {
	ts, _, _ := newTestServer(t)
	url := ts.URL + "/v1/admin/lines/ETH/DAI"

	body := `{"duration_seconds":0,"initial_offer":"500000000000000000","proportion":"500000000000000000"}`
	resp := adminPut(t, url, "secret", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
	if payload := decode(t, resp); payload["code"] != "InvalidParameter" {
		t.Errorf("code: %v", payload["code"])
	}
}

func TestHTTP_LimitReadback(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/limits/ETH/DAI")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body := decode(t, resp)
	if body["max"] != "1000000000000000000000" || body["sum"] != "0" {
		t.Errorf("limit: %v", body)
	}
}

func TestHTTP_Readiness(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: got %d, want 200", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestHTTP_QuoteMissingArtParam(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(fmt.Sprintf("%s/v1/auctions/%s/quote", ts.URL, testVault))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
