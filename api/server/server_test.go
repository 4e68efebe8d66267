package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peer-mapper/trust-indexer/api/middleware"
	"github.com/peer-mapper/trust-indexer/api/service"
	"github.com/peer-mapper/trust-indexer/chain"
	"github.com/peer-mapper/trust-indexer/database"
	"github.com/peer-mapper/trust-indexer/database/orm"
	"github.com/peer-mapper/trust-indexer/database/sqlite"
	"github.com/peer-mapper/trust-indexer/database/store"
	"github.com/peer-mapper/trust-indexer/handshake"
	"github.com/peer-mapper/trust-indexer/overlap"
	"github.com/peer-mapper/trust-indexer/relay"
)

const (
	issuerA = "0x00000000000000000000000000000000000000aa"
	issuerB = "0x00000000000000000000000000000000000000bb"
	issuerC = "0x00000000000000000000000000000000000000cc"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGate struct {
	submitted int
}

func (f *fakeGate) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000fe")
}

func (f *fakeGate) IssuerNonce(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(4), nil
}

func (f *fakeGate) AttestCount(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(2), nil
}

func (f *fakeGate) HasPaidFee(context.Context, common.Address) (bool, error) {
	return false, nil
}

func (f *fakeGate) FeeThreshold(context.Context) (*big.Int, error) { return big.NewInt(3), nil }

func (f *fakeGate) LifetimeFee(context.Context) (*big.Int, error) { return big.NewInt(1000), nil }

func (f *fakeGate) AttestDelegated(
	*bind.TransactOpts,
	chain.DelegatedPayload,
	common.Address,
	*big.Int,
	uint64,
	chain.Signature,
) (*types.Transaction, error) {
	f.submitted++
	return types.NewTx(&types.LegacyTx{Nonce: uint64(f.submitted)}), nil
}

type fakeNode struct{}

func (fakeNode) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1284), nil }

func (fakeNode) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(7),
		GasUsed:     50_000,
	}, nil
}

type testEnv struct {
	handler http.Handler
	store   *store.Store
	gate    *fakeGate
}

type envOption func(cfg *Config, withRelay *bool)

func withoutRelay() envOption {
	return func(_ *Config, withRelay *bool) { *withRelay = false }
}

func withConfig(fn func(cfg *Config)) envOption {
	return func(cfg *Config, _ *bool) { fn(cfg) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := Config{RateLimit: middleware.RateLimitConfig{PerSecond: 1000, PerDay: 100000}}
	withRelay := true
	for _, opt := range opts {
		opt(&cfg, &withRelay)
	}

	db, err := sqlite.NewMemoryDB(uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	s := store.New(db)

	now := uint64(time.Now().Unix())
	for _, a := range []*orm.Attestation{
		{Issuer: issuerA, SubjectID: "alice", UID: "0x01", BlockTime: now - 10, TrustLevel: 3},
		{Issuer: issuerB, SubjectID: "alice", UID: "0x02", BlockTime: now - 500, TrustLevel: 1},
		{Issuer: issuerC, SubjectID: "alice", UID: "0x03", BlockTime: now - 5, Expiry: 1},
		{Issuer: issuerA, SubjectID: "bob", UID: "0x04", BlockTime: now - 20, TrustLevel: 2},
		{Issuer: issuerA, SubjectID: "carol", UID: "0x05", BlockTime: now - 30},
	} {
		_, err := s.UpsertAttestation(context.Background(), a, "")
		require.NoError(t, err)
	}

	engine := overlap.New(s, overlap.Config{})
	hs := handshake.New(s, s, engine, handshake.Config{})

	env := &testEnv{store: s, gate: &fakeGate{}}
	var r *relay.Service
	if withRelay {
		r = relay.New(relay.Config{Retry: chain.RetryPolicy{
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			MaxAttempts:     1,
		}}, fakeNode{}, env.gate, &bind.TransactOpts{}, s)
	}

	srv, err := New(cfg, service.New(s, engine, hs, r))
	require.NoError(t, err)
	env.handler = srv.Handler()

	return env
}

func (e *testEnv) do(
	t *testing.T,
	method string,
	path string,
	body interface{},
	header http.Header,
) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)

	type item struct {
		Issuer    string `json:"issuer"`
		SubjectID string `json:"subjectId"`
	}
	var resp struct {
		SubjectID string `json:"subjectId"`
		Inbound   []item `json:"inbound"`
		Outbound  []item `json:"outbound"`
	}

	w := env.do(t, http.MethodGet, "/profile/alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, "alice", resp.SubjectID)
	assert.Equal(t, []item{
		{Issuer: issuerA, SubjectID: "alice"},
		{Issuer: issuerB, SubjectID: "alice"},
	}, resp.Inbound)
	assert.Empty(t, resp.Outbound)

	w = env.do(t, http.MethodGet, "/profile/alice?issuer="+issuerA, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, []item{
		{Issuer: issuerA, SubjectID: "alice"},
		{Issuer: issuerA, SubjectID: "bob"},
		{Issuer: issuerA, SubjectID: "carol"},
	}, resp.Outbound)
}

func TestProfileInvalidIssuer(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/profile/alice?issuer=nope", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t,
		`{"error":"invalid_request","details":{"fields":{"issuer":"eth_addr"}}}`,
		w.Body.String())
}

func sign(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

func party(t *testing.T, subjectID string, challenge string) map[string]string {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return map[string]string{
		"subjectId": subjectID,
		"address":   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		"signature": sign(t, key, challenge),
	}
}

func TestQrHandshake(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/qr/challenge", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/qr/challenge?issued_for=bob", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/qr/challenge?issuedFor=bob", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var c handshake.Challenge
	decode(t, w, &c)
	assert.Equal(t, "bob", c.IssuedFor)

	body := map[string]interface{}{
		"challengeId": c.ChallengeID,
		"challenge":   c.Challenge,
		"viewer":      party(t, "alice", c.Challenge),
		"target":      party(t, "bob", c.Challenge),
	}

	mismatch := map[string]interface{}{
		"challengeId": c.ChallengeID,
		"challenge":   c.Challenge,
		"viewer":      party(t, "alice", c.Challenge),
		"target":      party(t, "carol", c.Challenge),
	}
	w = env.do(t, http.MethodPost, "/qr/verify", mismatch, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"challenge_mismatch"}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/qr/verify", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		ChallengeID string           `json:"challengeId"`
		ExpiresAt   int64            `json:"expiresAt"`
		Overlaps    []overlap.Result `json:"overlaps"`
	}
	decode(t, w, &res)
	assert.Equal(t, c.ChallengeID, res.ChallengeID)
	assert.Equal(t, c.ExpiresAt, res.ExpiresAt)
	require.Len(t, res.Overlaps, 1)
	assert.Equal(t, issuerA, res.Overlaps[0].Issuer)
	assert.Equal(t, uint8(2), res.Overlaps[0].TrustLevel)
	assert.Nil(t, res.Overlaps[0].Circle)

	w = env.do(t, http.MethodPost, "/qr/verify", body, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"challenge_used"}`, w.Body.String())

	body["challengeId"] = uuid.NewString()
	w = env.do(t, http.MethodPost, "/qr/verify", body, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"challenge_not_found"}`, w.Body.String())
}

func TestQrVerifyMalformed(t *testing.T) {
	testCases := []struct {
		name string
		body interface{}
	}{
		{name: "not json", body: "{"},
		{name: "empty body", body: nil},
		{
			name: "bad signature format",
			body: map[string]interface{}{
				"challengeId": uuid.NewString(),
				"challenge":   "peer-mapper:00",
				"viewer": map[string]string{
					"subjectId": "alice",
					"address":   issuerA,
					"signature": "0x1234",
				},
				"target": map[string]string{
					"subjectId": "bob",
					"address":   issuerB,
					"signature": "0x1234",
				},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)

			w := env.do(t, http.MethodPost, "/qr/verify", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var body service.ErrorBody
			decode(t, w, &body)
			assert.Equal(t, "invalid_request", body.Error)
		})
	}
}

func TestIntersection(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/psi/intersection", map[string]string{
		"viewerSubjectId": "alice",
		"targetSubjectId": "bob",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Overlaps []overlap.Result `json:"overlaps"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Overlaps, 1)
	assert.Equal(t, issuerA, resp.Overlaps[0].Issuer)
}

func prepareBody() map[string]interface{} {
	return map[string]interface{}{
		"issuer":     issuerA,
		"recipient":  issuerB,
		"cubidId":    "bob",
		"trustLevel": 3,
		"human":      true,
	}
}

func relayBody(t *testing.T) map[string]interface{} {
	t.Helper()

	return map[string]interface{}{
		"issuer":    issuerA,
		"signature": "0x" + strings.Repeat("11", 64) + "1b",
		"value":     "1000",
		"payload": map[string]interface{}{
			"recipient":  issuerB,
			"cubidId":    "bob",
			"trustLevel": "3",
			"human":      true,
			"circle":     "0x",
			"issuedAt":   1,
			"expiry":     0,
			"nonce":      "4",
			"deadline":   time.Now().Add(time.Minute).Unix(),
		},
	}
}

func TestAttestPrepare(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/attest/prepare", prepareBody(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp relay.PrepareResult
	decode(t, w, &resp)
	assert.Equal(t, relay.Meta{
		Nonce:     "4",
		NextCount: "3",
		Fee:       relay.Fee{Required: true, Amount: "1000"},
	}, resp.Meta)
	assert.Equal(t, "1284", resp.TypedData.Domain.ChainID)
	assert.Equal(t, "bob", resp.TypedData.Message["cubidId"])
	assert.Equal(t, "3", resp.TypedData.Message["trustLevel"])

	bad := prepareBody()
	bad["trustLevel"] = 256
	w = env.do(t, http.MethodPost, "/attest/prepare", bad, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad = prepareBody()
	bad["circle"] = "0x1234"
	w = env.do(t, http.MethodPost, "/attest/prepare", bad, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t,
		`{"error":"invalid_request","details":{"fields":{"circle":"bytes32"}}}`,
		w.Body.String())

	bad = prepareBody()
	bad["cubidId"] = "   "
	w = env.do(t, http.MethodPost, "/attest/prepare", bad, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttestRelay(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/attest/relay", relayBody(t), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp relay.RelayResult
	decode(t, w, &resp)
	assert.Equal(t, relay.StatusSuccess, resp.Status)
	assert.Equal(t, "7", resp.BlockNumber)
	assert.Equal(t, "50000", resp.GasUsed)
	assert.Equal(t, 1, env.gate.submitted)

	issuer, err := env.store.GetIssuer(context.Background(), issuerA)
	require.NoError(t, err)
	assert.True(t, issuer.FeePaid)

	expired := relayBody(t)
	expired["payload"].(map[string]interface{})["deadline"] = 1
	w = env.do(t, http.MethodPost, "/attest/relay", expired, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"deadline_passed"}`, w.Body.String())
	assert.Equal(t, 1, env.gate.submitted)
}

func TestAttestWithoutRelay(t *testing.T) {
	env := newTestEnv(t, withoutRelay())

	w := env.do(t, http.MethodPost, "/attest/prepare", prepareBody(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"relay_unavailable"}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/attest/relay", relayBody(t), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAttestAuth(t *testing.T) {
	const secret = "s3cret"
	env := newTestEnv(t, withConfig(func(cfg *Config) {
		cfg.Auth.JWTSecret = secret
	}))

	w := env.do(t, http.MethodPost, "/attest/prepare", prepareBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}).
		SignedString([]byte(secret))
	require.NoError(t, err)
	w = env.do(t, http.MethodPost, "/attest/prepare", prepareBody(), http.Header{
		"Authorization": []string{"Bearer " + token},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// Only attest routes are authenticated.
	w = env.do(t, http.MethodGet, "/profile/alice", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimited(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) {
		cfg.RateLimit = middleware.RateLimitConfig{PerSecond: 1, PerDay: 100}
	}))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/profile/alice", nil, nil).Code)
	w := env.do(t, http.MethodGet, "/profile/alice", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil, nil).Code)
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, withConfig(func(cfg *Config) {
		cfg.MaxBodySize = "32B"
	}))

	w := env.do(t, http.MethodPost, "/psi/intersection", map[string]string{
		"viewerSubjectId": strings.Repeat("a", 64),
		"targetSubjectId": "bob",
	}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.JSONEq(t, `{"error":"request_too_large"}`, w.Body.String())
}

func TestNewRejectsBadBodySize(t *testing.T) {
	_, err := New(Config{MaxBodySize: "lots"}, nil)
	assert.Error(t, err)
}
