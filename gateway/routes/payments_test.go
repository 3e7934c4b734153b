package routes

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"loyalchain/crypto"
	"loyalchain/gateway/middleware"
	"loyalchain/native/ledger"
	"loyalchain/native/payment"
	"loyalchain/native/rates"
	"loyalchain/native/shop"
	"loyalchain/storage"
)

const testChainID = 88

type gatewayEnv struct {
	t       *testing.T
	handler http.Handler
	ledger  *ledger.Ledger

	payerKey *crypto.PrivateKey
	payer    [20]byte
	shopID   [32]byte
}

func fillBytes(fill byte, n int) []byte {
	return bytes.Repeat([]byte{fill}, n)
}

func newGatewayEnv(t *testing.T, auth *middleware.Authenticator) *gatewayEnv {
	t.Helper()
	env := &gatewayEnv{t: t}
	copy(env.shopID[:], fillBytes(0x55, 32))

	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	var holding, system, feeCollection [20]byte
	copy(holding[:], fillBytes(0xA1, 20))
	copy(system[:], fillBytes(0xB2, 20))
	copy(feeCollection[:], fillBytes(0xC3, 20))

	led, err := ledger.New(db, ledger.Config{
		SystemAccount:        system,
		FeeCollectionAccount: feeCollection,
		FeeBps:               100,
	})
	require.NoError(t, err)
	env.ledger = led

	store, err := payment.NewStore(db)
	require.NoError(t, err)
	registry, err := shop.NewRegistry(db)
	require.NoError(t, err)

	oracle := rates.NewOracle()
	require.NoError(t, oracle.SetRate("USD", big.NewRat(1, 1)))
	require.NoError(t, oracle.SetTokenRate(big.NewRat(1, 1)))

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	env.payerKey = key
	copy(env.payer[:], key.PubKey().Address().Bytes())

	shopKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	var shopAcct [20]byte
	copy(shopAcct[:], shopKey.PubKey().Address().Bytes())

	require.NoError(t, registry.Register(&shop.Shop{
		ID:       env.shopID,
		Name:     "corner-store",
		Status:   shop.StatusActive,
		Currency: "USD",
		Account:  shopAcct,
	}))
	require.NoError(t, led.Credit(env.payer, ledger.Point, big.NewInt(1000)))
	require.NoError(t, led.Credit(system, ledger.Token, big.NewInt(1_000_000)))

	engine := payment.NewEngine()
	engine.SetState(store)
	engine.SetLedger(led)
	engine.SetShopRegistry(registry)
	engine.SetRateSource(oracle)
	engine.SetHoldingAccount(holding)
	engine.SetChainID(testChainID)

	env.handler = New(Config{
		Payments:      NewPaymentRoutes(engine, nil),
		Shops:         NewShopRoutes(registry, nil),
		Authenticator: auth,
	})
	return env
}

func (env *gatewayEnv) openBody(paymentID [32]byte, amount int64, secret []byte) openPaymentRequest {
	env.t.Helper()
	nonce, err := env.ledger.NonceOf(env.payer)
	require.NoError(env.t, err)
	digest := payment.OpenPaymentHash(testChainID, paymentID, "purchase-1", big.NewInt(amount), "USD", env.shopID, env.payer, nonce)
	sig, err := env.payerKey.Sign(digest)
	require.NoError(env.t, err)

	lock := payment.SecretHash(secret)
	return openPaymentRequest{
		PaymentID:  hex.EncodeToString(paymentID[:]),
		PurchaseID: "purchase-1",
		Amount:     big.NewInt(amount).String(),
		Currency:   "USD",
		ShopID:     hex.EncodeToString(env.shopID[:]),
		Account:    hex.EncodeToString(env.payer[:]),
		SecretLock: hex.EncodeToString(lock[:]),
		Signature:  hex.EncodeToString(sig),
	}
}

func (env *gatewayEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	env.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(env.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	return rr
}

func decodePayment(t *testing.T, rr *httptest.ResponseRecorder) paymentResponse {
	t.Helper()
	var resp paymentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestOpenPaymentEndpoint(t *testing.T) {
	env := newGatewayEnv(t, nil)
	var paymentID [32]byte
	copy(paymentID[:], fillBytes(0x11, 32))
	secret := []byte("open-secret")

	rr := env.do(http.MethodPost, "/v1/payments/open", env.openBody(paymentID, 100, secret))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	resp := decodePayment(t, rr)
	require.Equal(t, "OPENED_PAYMENT", resp.Status)
	require.Equal(t, "100", resp.PaidPoint)
	require.Equal(t, "1", resp.FeePoint)

	bal, err := env.ledger.BalanceOf(env.payer, ledger.Point)
	require.NoError(t, err)
	require.Equal(t, "899", bal.String())
}

func TestOpenPaymentRejectsBadSignature(t *testing.T) {
	env := newGatewayEnv(t, nil)
	var paymentID [32]byte
	copy(paymentID[:], fillBytes(0x12, 32))

	body := env.openBody(paymentID, 100, []byte("secret"))
	body.Amount = "200" // signed amount no longer matches
	rr := env.do(http.MethodPost, "/v1/payments/open", body)
	require.Equal(t, http.StatusForbidden, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "bad-signature", resp.Error)
}

func TestOpenPaymentRejectsMalformedBody(t *testing.T) {
	env := newGatewayEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/open", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClosePaymentEndpointSettles(t *testing.T) {
	env := newGatewayEnv(t, nil)
	var paymentID [32]byte
	copy(paymentID[:], fillBytes(0x13, 32))
	secret := []byte("settle-secret")

	rr := env.do(http.MethodPost, "/v1/payments/open", env.openBody(paymentID, 100, secret))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(http.MethodPost, "/v1/payments/close", closePaymentRequest{
		PaymentID: hex.EncodeToString(paymentID[:]),
		Secret:    hex.EncodeToString(secret),
		Confirm:   true,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "CLOSED_PAYMENT", decodePayment(t, rr).Status)

	// Settling twice is an invalid transition.
	rr = env.do(http.MethodPost, "/v1/payments/close", closePaymentRequest{
		PaymentID: hex.EncodeToString(paymentID[:]),
		Secret:    hex.EncodeToString(secret),
		Confirm:   true,
	})
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestGetPaymentEndpoint(t *testing.T) {
	env := newGatewayEnv(t, nil)
	var paymentID [32]byte
	copy(paymentID[:], fillBytes(0x14, 32))

	rr := env.do(http.MethodPost, "/v1/payments/open", env.openBody(paymentID, 100, []byte("s")))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(http.MethodGet, "/v1/payments/"+hex.EncodeToString(paymentID[:]), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, hex.EncodeToString(paymentID[:]), decodePayment(t, rr).PaymentID)

	rr = env.do(http.MethodGet, "/v1/payments/"+hex.EncodeToString(fillBytes(0xEE, 32)), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAvailableEndpoint(t *testing.T) {
	env := newGatewayEnv(t, nil)
	var paymentID [32]byte
	copy(paymentID[:], fillBytes(0x15, 32))

	rr := env.do(http.MethodGet, "/v1/payments/"+hex.EncodeToString(paymentID[:])+"/available", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp["available"])

	rr = env.do(http.MethodPost, "/v1/payments/open", env.openBody(paymentID, 100, []byte("s")))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(http.MethodGet, "/v1/payments/"+hex.EncodeToString(paymentID[:])+"/available", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.False(t, resp["available"])
}

func TestShopEndpoints(t *testing.T) {
	env := newGatewayEnv(t, nil)
	shopID := hex.EncodeToString(fillBytes(0x66, 32))
	account := hex.EncodeToString(fillBytes(0x77, 20))

	rr := env.do(http.MethodPost, "/v1/shops", registerShopRequest{
		ShopID:   shopID,
		Name:     "bakery",
		Currency: "usd",
		Account:  account,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp shopResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "ACTIVE", resp.Status)
	require.Equal(t, "USD", resp.Currency)

	// Duplicate ids are rejected.
	rr = env.do(http.MethodPost, "/v1/shops", registerShopRequest{
		ShopID:   shopID,
		Name:     "bakery",
		Currency: "usd",
		Account:  account,
	})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(http.MethodPut, "/v1/shops/"+shopID+"/status", setStatusRequest{Status: "inactive"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "INACTIVE", resp.Status)

	// Only the shop account may set a delegate.
	rr = env.do(http.MethodPut, "/v1/shops/"+shopID+"/delegate", setDelegateRequest{
		Caller:   hex.EncodeToString(fillBytes(0x01, 20)),
		Delegate: hex.EncodeToString(fillBytes(0x02, 20)),
	})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(http.MethodPut, "/v1/shops/"+shopID+"/delegate", setDelegateRequest{
		Caller:   account,
		Delegate: hex.EncodeToString(fillBytes(0x02, 20)),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, hex.EncodeToString(fillBytes(0x02, 20)), resp.Delegate)

	rr = env.do(http.MethodGet, "/v1/shops/"+hex.EncodeToString(fillBytes(0xDD, 32)), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGatewayAuthRequiresToken(t *testing.T) {
	secret := "gateway-test-secret"
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:       true,
		HMACSecret:    secret,
		Issuer:        "relay",
		Audience:      "paymentd",
		OptionalPaths: []string{"/healthz"},
	}, nil)
	env := newGatewayEnv(t, auth)

	rr := env.do(http.MethodGet, "/v1/payments/"+hex.EncodeToString(fillBytes(0x16, 32))+"/available", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "relay",
		"aud": "paymentd",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/payments/"+hex.EncodeToString(fillBytes(0x16, 32))+"/available", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
}
