package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"vestvault/core/events"
	"vestvault/core/state"
	"vestvault/crypto"
	"vestvault/native/common"
	"vestvault/native/oracle"
	"vestvault/native/presale"
	"vestvault/native/system"
	"vestvault/native/vesting"
	"vestvault/services/custodyd/storage"
	kv "vestvault/storage"
)

const testNow int64 = 1_700_000_000

type testEnv struct {
	t       *testing.T
	srv     *httptest.Server
	server  *Server
	mgr     *state.Manager
	source  *oracle.ManualSource
	feed    oracle.FeedID
	journal *storage.Journal
	admin   *crypto.PrivateKey
	buyer   *crypto.PrivateKey
	mint    [20]byte
	now     int64
}

func addressOf(key *crypto.PrivateKey) [20]byte {
	return key.PubKey().Address().Raw()
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	db := kv.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)

	admin, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	buyer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	env := &testEnv{t: t, mgr: mgr, admin: admin, buyer: buyer, now: testNow}
	env.mint[0] = 0xA1
	env.feed[0] = 0xEF

	require.NoError(t, mgr.Update(func(txn *state.Txn) error {
		if err := txn.CreateMint(env.mint, 6, addressOf(admin)); err != nil {
			return err
		}
		for _, key := range []*crypto.PrivateKey{admin, buyer} {
			if err := txn.SetNativeBalance(addressOf(key), 1_000_000_000_000); err != nil {
				return err
			}
		}
		ata, err := txn.CreateAssociatedTokenAccount(addressOf(admin), addressOf(admin), env.mint)
		if err != nil {
			return err
		}
		return txn.MintTo(env.mint, ata, addressOf(admin), 10_000_000)
	}))

	auth, err := common.NewAuthority(addressOf(admin))
	require.NoError(t, err)

	env.source = oracle.NewManualSource()
	presaleEngine := presale.NewEngine(mgr, auth, oracle.NewAdapter(env.source, env.feed, 0))
	presaleEngine.SetNowFunc(func() int64 { return env.now })
	vestingEngine := vesting.NewEngine(mgr, auth)
	vestingEngine.SetNowFunc(func() int64 { return env.now })

	env.journal, err = storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.journal.Close() })

	hub := NewHub(nil)
	mgr.SetEmitter(events.Fanout{env.journal, hub})

	env.server, err = New(Config{RateLimit: limit}, Deps{
		Presale: presaleEngine,
		Vesting: vestingEngine,
		Pauses:  system.NewPauses(mgr, auth),
		Journal: env.journal,
		Hub:     hub,
		Now:     func() time.Time { return time.Unix(env.now, 0) },
	}, nil)
	require.NoError(t, err)
	env.srv = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) postPrice(publish int64) {
	e.source.Post(oracle.PriceUpdate{FeedID: e.feed, Price: oracle.Price{Price: 5000, Expo: -2, PublishTime: publish}})
}

func (e *testEnv) sendSigned(key *crypto.PrivateKey, method, path string, payload interface{}, ts int64, nonce string) *http.Response {
	e.t.Helper()
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(e.t, err)
	}
	sig, err := crypto.SignRequest(key, method, path, ts, nonce, body)
	require.NoError(e.t, err)
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(body))
	require.NoError(e.t, err)
	req.Header.Set(headerTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(headerNonce, nonce)
	req.Header.Set(headerSignature, hex.EncodeToString(sig))
	resp, err := e.srv.Client().Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) signedWithTime(key *crypto.PrivateKey, method, path string, payload interface{}, ts int64) *http.Response {
	return e.sendSigned(key, method, path, payload, ts, uuid.NewString())
}

func (e *testEnv) signed(key *crypto.PrivateKey, method, path string, payload interface{}) *http.Response {
	return e.signedWithTime(key, method, path, payload, e.now)
}

func (e *testEnv) get(path string) *http.Response {
	e.t.Helper()
	resp, err := e.srv.Client().Get(e.srv.URL + path)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func requireError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	require.Equal(t, code, body.Code)
}

func (e *testEnv) initializeVault(index uint64) vaultView {
	e.t.Helper()
	resp := e.signed(e.admin, http.MethodPost, "/v1/vaults", initializeVaultRequest{
		Mint:          crypto.FromRaw(e.mint).String(),
		Index:         index,
		PricePerToken: 2_000_000,
	})
	require.Equal(e.t, http.StatusCreated, resp.StatusCode)
	return decode[vaultView](e.t, resp)
}

func TestVaultLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	vault := env.initializeVault(1)
	require.True(t, strings.HasPrefix(vault.Address, string(crypto.CustodyPrefix)))
	base := "/v1/vaults/" + vault.Address

	resp := env.signed(env.admin, http.MethodPost, base+"/deposit", amountRequest{Amount: 5_000_000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, uint64(5_000_000), decode[vaultView](t, resp).TotalTokens)

	env.postPrice(testNow)
	quote := decode[receiptView](t, env.get(base+"/quote?amount=2000000"))
	require.Equal(t, uint64(80_000_000), quote.Payment)

	resp = env.signed(env.buyer, http.MethodPost, base+"/purchase", amountRequest{Amount: 2_000_000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	receipt := decode[receiptView](t, resp)
	require.Equal(t, uint64(2_000_000), receipt.Tokens)
	require.Equal(t, quote.Payment, receipt.Payment)
	require.Equal(t, accountString(addressOf(env.buyer)), receipt.Buyer)

	current := decode[vaultView](t, env.get(base))
	require.Equal(t, uint64(3_000_000), current.TotalTokens)

	listing := decode[struct {
		Vaults []vaultView `json:"vaults"`
	}](t, env.get("/v1/vaults"))
	require.Len(t, listing.Vaults, 1)

	journal := decode[struct {
		Events []eventView `json:"events"`
	}](t, env.get("/v1/events?type="+events.TypeTokensPurchased))
	require.Len(t, journal.Events, 1)
	require.Equal(t, "2000000", journal.Events[0].Attributes["amount"])
	require.NotZero(t, journal.Events[0].Seq)
}

func TestSignatureValidation(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	resp, err := env.srv.Client().Post(env.srv.URL+"/v1/vaults", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	requireError(t, resp, http.StatusUnauthorized, "UNAUTHENTICATED")

	stale := env.signedWithTime(env.admin, http.MethodPost, "/v1/vaults", initializeVaultRequest{}, testNow-int64(6*time.Minute/time.Second))
	requireError(t, stale, http.StatusUnauthorized, "UNAUTHENTICATED")

	// A body that differs from the signed one recovers a different identity.
	body := []byte(`{"mint":"` + crypto.FromRaw(env.mint).String() + `","index":9,"pricePerToken":1}`)
	sig, err := crypto.SignRequest(env.admin, http.MethodPost, "/v1/vaults", env.now, "tamper-1", body)
	require.NoError(t, err)
	tampered := bytes.Replace(body, []byte(`"index":9`), []byte(`"index":8`), 1)
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/vaults", bytes.NewReader(tampered))
	require.NoError(t, err)
	req.Header.Set(headerTimestamp, strconv.FormatInt(env.now, 10))
	req.Header.Set(headerNonce, "tamper-1")
	req.Header.Set(headerSignature, hex.EncodeToString(sig))
	resp, err = env.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	requireError(t, resp, http.StatusForbidden, "ACCESS_DENIED")
}

func TestSignedRequestCannotBeReplayed(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	vault := env.initializeVault(1)
	base := "/v1/vaults/" + vault.Address

	resp := env.signed(env.admin, http.MethodPost, base+"/deposit", amountRequest{Amount: 9_000_000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.postPrice(testNow)

	purchase := amountRequest{Amount: 1_000_000}
	first := env.sendSigned(env.buyer, http.MethodPost, base+"/purchase", purchase, env.now, "purchase-1")
	require.Equal(t, http.StatusOK, first.StatusCode)
	for i := 0; i < 2; i++ {
		replay := env.sendSigned(env.buyer, http.MethodPost, base+"/purchase", purchase, env.now, "purchase-1")
		requireError(t, replay, http.StatusUnauthorized, "UNAUTHENTICATED")
	}
	require.Equal(t, uint64(8_000_000), decode[vaultView](t, env.get(base)).TotalTokens)

	// A different signer may reuse the nonce string.
	resp = env.sendSigned(env.admin, http.MethodPost, base+"/deposit", amountRequest{Amount: 1}, env.now, "purchase-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Nonces survive a restart through the journal.
	restarted, err := New(Config{}, Deps{
		Presale: env.server.presale,
		Vesting: env.server.vesting,
		Pauses:  env.server.pauses,
		Journal: env.journal,
		Now:     func() time.Time { return time.Unix(env.now, 0) },
	}, nil)
	require.NoError(t, err)
	require.NoError(t, restarted.HydrateNonces(context.Background()))
	// vault init, two deposits and the purchase
	require.Equal(t, 4, restarted.auth.nonces.cache.Len())
	env.srv = httptest.NewServer(restarted.Handler())
	t.Cleanup(env.srv.Close)
	replay := env.sendSigned(env.buyer, http.MethodPost, base+"/purchase", purchase, env.now, "purchase-1")
	requireError(t, replay, http.StatusUnauthorized, "UNAUTHENTICATED")

	missingNonce := env.sendSigned(env.buyer, http.MethodPost, base+"/purchase", purchase, env.now, "")
	requireError(t, missingNonce, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestNonceCacheExpiresAndEvicts(t *testing.T) {
	base := time.Unix(testNow, 0)
	cache := newNonceCache(time.Minute, 2)
	require.False(t, cache.Seen("a", base))
	require.True(t, cache.Seen("a", base.Add(30*time.Second)))
	require.False(t, cache.Seen("a", base.Add(2*time.Minute)))

	require.False(t, cache.Seen("b", base.Add(2*time.Minute)))
	require.False(t, cache.Seen("c", base.Add(2*time.Minute)))
	require.Equal(t, 2, cache.Len())
	require.False(t, cache.Contains("a", base.Add(2*time.Minute)))
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	vault := env.initializeVault(1)
	base := "/v1/vaults/" + vault.Address

	dup := env.signed(env.admin, http.MethodPost, "/v1/vaults", initializeVaultRequest{
		Mint: crypto.FromRaw(env.mint).String(), Index: 1, PricePerToken: 1,
	})
	requireError(t, dup, http.StatusConflict, "ALREADY_EXISTS")

	requireError(t, env.signed(env.buyer, http.MethodPost, base+"/deposit", amountRequest{Amount: 1}), http.StatusForbidden, "ACCESS_DENIED")

	missing := custodyString([20]byte{0x77})
	requireError(t, env.get("/v1/vaults/"+missing), http.StatusNotFound, "NOT_FOUND")
	requireError(t, env.get("/v1/vaults/not-an-address"), http.StatusBadRequest, "INVALID_ARGUMENT")

	// No oracle update has been posted.
	requireError(t, env.signed(env.buyer, http.MethodPost, base+"/purchase", amountRequest{Amount: 1_000_000}), http.StatusServiceUnavailable, "STALE_PRICE")

	env.postPrice(testNow)
	requireError(t, env.signed(env.buyer, http.MethodPost, base+"/purchase", amountRequest{Amount: 1_000_000}), http.StatusUnprocessableEntity, "INSUFFICIENT_TOKENS")

	resp := env.signed(env.admin, http.MethodPut, "/v1/admin/pause/presale", pauseRequest{Paused: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snapshot := decode[struct {
		Paused map[string]bool `json:"paused"`
	}](t, resp)
	require.True(t, snapshot.Paused[common.ModulePresale])
	requireError(t, env.signed(env.buyer, http.MethodPost, base+"/purchase", amountRequest{Amount: 1_000_000}), http.StatusLocked, codeModulePaused)

	requireError(t, env.signed(env.admin, http.MethodPut, "/v1/admin/pause/swap", pauseRequest{Paused: true}), http.StatusBadRequest, "INVALID_ARGUMENT")
	requireError(t, env.signed(env.buyer, http.MethodPut, "/v1/admin/pause/vesting", pauseRequest{Paused: true}), http.StatusForbidden, "ACCESS_DENIED")
}

func TestVestingOverHTTP(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	resp := env.signed(env.admin, http.MethodPost, "/v1/vesting", createVestingAccountRequest{
		ReserveType: "team",
		Mint:        crypto.FromRaw(env.mint).String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	account := decode[vestingAccountView](t, resp)
	require.Equal(t, "team", account.ReserveType)

	beneficiary := accountString(addressOf(env.buyer))
	resp = env.signed(env.admin, http.MethodPost, "/v1/vesting/team/reserves", createReserveRequest{
		Beneficiary:  beneficiary,
		StartTime:    env.now,
		EndTime:      env.now + 400*86_400,
		TotalAmount:  250,
		CliffTime:    3600,
		MonthlyClaim: 100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reserve := decode[reserveView](t, resp)
	require.Equal(t, vesting.StatusLocked, reserve.Status)
	require.Equal(t, env.now+3600, reserve.NextClaimTime)

	requireError(t, env.signed(env.buyer, http.MethodPost, "/v1/vesting/team/claim", nil), http.StatusUnprocessableEntity, "CLIFF_PERIOD_NOT_ENDED")

	env.now += 3600
	resp = env.signed(env.buyer, http.MethodPost, "/v1/vesting/team/claim", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claim := decode[claimResponse](t, resp)
	require.Equal(t, int64(100), claim.Claimed)

	requireError(t, env.signed(env.buyer, http.MethodPost, "/v1/vesting/team/claim", nil), http.StatusUnprocessableEntity, "CLAIM_NOT_AVAILABLE_YET")
	requireError(t, env.signed(env.buyer, http.MethodPost, "/v1/vesting/team/close", nil), http.StatusUnprocessableEntity, "VESTING_NOT_OVER")

	current := decode[reserveView](t, env.get("/v1/vesting/team/reserves/"+beneficiary))
	require.Equal(t, vesting.StatusAccruing, current.Status)
	require.Equal(t, int64(100), current.AmountWithdrawn)

	requireError(t, env.get("/v1/vesting/missing"), http.StatusNotFound, "NOT_FOUND")
}

func TestWebsocketStreamsCommittedEvents(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/events/ws?type=presale."
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool { return env.server.Hub().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.initializeVault(4)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var got eventView
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, events.TypeVaultInitialized, got.Type)
	require.Equal(t, "4", got.Attributes["index"])
}

func TestRateLimiterThrottlesSignedRoutes(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerMinute: 1, Burst: 1})
	env.initializeVault(1)
	requireError(t, env.signed(env.admin, http.MethodPost, "/v1/vaults", initializeVaultRequest{}), http.StatusTooManyRequests, "RATE_LIMITED")

	health := env.get("/healthz")
	require.Equal(t, http.StatusOK, health.StatusCode)
	require.NotEmpty(t, health.Header.Get(headerRequestID))
}

func TestRateLimiterClientIdentity(t *testing.T) {
	direct, err := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	require.NoError(t, err)
	proxied, err := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1, TrustedProxies: []string{"10.0.0.0/8", "192.0.2.1"}})
	require.NoError(t, err)

	spoofed := httptest.NewRequest(http.MethodPost, "/v1/vaults", nil)
	spoofed.RemoteAddr = "203.0.113.7:4711"
	spoofed.Header.Set("X-Forwarded-For", "198.51.100.1")
	spoofed.Header.Set("X-Real-IP", "198.51.100.2")
	require.Equal(t, "203.0.113.7", direct.clientID(spoofed))
	require.Equal(t, "203.0.113.7", proxied.clientID(spoofed))

	viaProxy := httptest.NewRequest(http.MethodPost, "/v1/vaults", nil)
	viaProxy.RemoteAddr = "10.1.2.3:4711"
	viaProxy.Header.Set("X-Forwarded-For", "198.51.100.1, 203.0.113.9, 192.0.2.1")
	require.Equal(t, "203.0.113.9", proxied.clientID(viaProxy))
	require.Equal(t, "10.1.2.3", direct.clientID(viaProxy))

	realIP := httptest.NewRequest(http.MethodPost, "/v1/vaults", nil)
	realIP.RemoteAddr = "192.0.2.1:80"
	realIP.Header.Set("X-Real-IP", "203.0.113.10")
	require.Equal(t, "203.0.113.10", proxied.clientID(realIP))

	_, err = NewRateLimiter(RateLimit{TrustedProxies: []string{"not-an-ip"}})
	require.Error(t, err)
}
