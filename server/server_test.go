package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kfsoftware/drivenet/auth"
	"github.com/kfsoftware/drivenet/registry"
	"github.com/kfsoftware/drivenet/store/ledger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret    = "signing-secret"
	testWalletKey = "wallet-alice"
)

const allCars = `[
	{"key":"CAR12","car":{"color":"blue","make":"Tesla","model":"S","owner":"alice","certOwner":"x509::/OU=client/CN=alice::/C=US"}},
	{"key":"CAR2","car":{"color":"red","make":"Ford","model":"T","owner":"alice","certOwner":"x509::/OU=client/CN=bob::/C=US"}},
	{"key":"CAR11","car":{"color":"green","make":"Fiat","model":"500","owner":"carol","certOwner":"x509::/OU=client/CN=carol::/C=US"}}
]`

type submitted struct {
	fn        string
	args      []string
	walletKey string
}

type fakeLedger struct {
	mu         sync.Mutex
	payloads   map[string]string
	err        error
	enrollErr  error
	readyErr   error
	submits    []submitted
	enrollment []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{payloads: map[string]string{
		"queryAllCars": allCars,
		"findMyCars":   `[]`,
		"queryByOwner": `[]`,
	}}
}

func (l *fakeLedger) Evaluate(ctx context.Context, fn string, args []string, walletKey string) ([]byte, error) {
	return l.EvaluateWithTransient(ctx, fn, args, nil, walletKey)
}

func (l *fakeLedger) EvaluateWithTransient(ctx context.Context, fn string, args []string, transient map[string][]byte, walletKey string) ([]byte, error) {
	if l.err != nil {
		return nil, l.err
	}
	return []byte(l.payloads[fn]), nil
}

func (l *fakeLedger) Submit(ctx context.Context, fn string, args []string, walletKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submits = append(l.submits, submitted{fn, args, walletKey})
	return l.err
}

func (l *fakeLedger) EnsureIdentity(ctx context.Context, user string, secret string) (string, error) {
	l.enrollment = append(l.enrollment, user)
	if l.enrollErr != nil {
		return "", l.enrollErr
	}
	return testWalletKey, nil
}

func (l *fakeLedger) Ready(ctx context.Context) error {
	return l.readyErr
}

type countingMetrics struct {
	success, failure int
}

func (m *countingMetrics) IncLogin(success bool) {
	if success {
		m.success++
	} else {
		m.failure++
	}
}

type fixture struct {
	ledger  *fakeLedger
	metrics *countingMetrics
	issuer  *auth.Issuer
	handler http.Handler
}

func newFixture(t *testing.T, uiDir string) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  newFakeLedger(),
		metrics: &countingMetrics{},
		issuer:  auth.NewIssuer(testSecret, 15*time.Minute, 72*time.Hour),
	}
	f.handler = NewServer(DriveNetServerOpts{
		Ledger:  f.ledger,
		Issuer:  f.issuer,
		UIDir:   uiDir,
		Metrics: f.metrics,
	}).Handler()
	return f
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	token, err := f.issuer.AccessToken("alice", testWalletKey)
	require.NoError(t, err)
	return token.Token
}

func (f *fixture) do(t *testing.T, method string, target string, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/login", `{"enrollmentUserId":"alice","enrollmentSecret":"pw"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := auth.AccessToken{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(900), resp.ExpiresIn)
	claims, err := f.issuer.VerifyAccess(resp.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, testWalletKey, claims.WalletKey)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.RefreshCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
	assert.Equal(t, int((72 * time.Hour).Seconds()), cookies[0].MaxAge)
	assert.NoError(t, f.issuer.VerifyRefresh(cookies[0].Value))
	assert.Equal(t, 1, f.metrics.success)
}

func TestLoginRejectsMissingFields(t *testing.T) {
	f := newFixture(t, "")

	for _, body := range []string{"", `{"enrollmentUserId":"alice"}`, `not json`} {
		rec := f.do(t, http.MethodPost, "/api/v1/login", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, f.ledger.enrollment)
}

func TestLoginEnrollmentFailure(t *testing.T) {
	f := newFixture(t, "")
	f.ledger.enrollErr = errors.New("enrollment failed: authentication failure")

	rec := f.do(t, http.MethodPost, "/api/v1/login", `{"enrollmentUserId":"alice","enrollmentSecret":"bad"}`, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to login: enrollment failed: authentication failure", rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, 1, f.metrics.failure)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t, "")
	expired, err := auth.NewIssuer(testSecret, -time.Minute, time.Hour).AccessToken("alice", testWalletKey)
	require.NoError(t, err)
	foreign, err := auth.NewIssuer("other-secret", time.Minute, time.Hour).AccessToken("alice", testWalletKey)
	require.NoError(t, err)

	for _, token := range []string{"", "garbage", expired.Token, foreign.Token} {
		rec := f.do(t, http.MethodGet, "/api/v1/vehicles", "", token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(t, http.MethodDelete, "/api/v1/CAR1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.ledger.submits)
}

func TestListVehicles(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/vehicles?sort=carNumber", "", f.token(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "3", rec.Header().Get("X-Total-Count"))

	var vehicles []registry.VehicleDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vehicles))
	require.Len(t, vehicles, 3)
	assert.Equal(t, "CAR2", vehicles[0].Key)
	assert.Equal(t, "bob", vehicles[0].Car.CertOwner)
	assert.Equal(t, registry.StatusPendingCurrentUser, vehicles[0].Status)
	assert.Equal(t, "CAR11", vehicles[1].Key)
	assert.Equal(t, registry.StatusNoRelation, vehicles[1].Status)
	assert.Equal(t, registry.StatusOwned, vehicles[2].Status)
}

func TestListVehiclesDefaultsToCarNumberOrder(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/vehicles", "", f.token(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var vehicles []registry.VehicleDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vehicles))
	require.Len(t, vehicles, 3)
	assert.Equal(t, "CAR2", vehicles[0].Key)
	assert.Equal(t, "CAR11", vehicles[1].Key)
	assert.Equal(t, "CAR12", vehicles[2].Key)
}

func TestListVehiclesQuery(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/vehicles?owner=alice&sort=make&order=desc&page=0&pageSize=1", "", f.token(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("X-Total-Count"))
	var vehicles []registry.VehicleDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vehicles))
	require.Len(t, vehicles, 1)
	assert.Equal(t, "Tesla", vehicles[0].Car.Make)

	for _, query := range []string{"sort=price", "order=up", "page=-1", "pageSize=x"} {
		rec := f.do(t, http.MethodGet, "/api/v1/vehicles?"+query, "", f.token(t))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestCallerVehiclesIsNotAnOwnerName(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/user/vehicles", "", f.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
	assert.Equal(t, "0", rec.Header().Get("X-Total-Count"))
}

func TestNextVehicleID(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/vehicles/next-id", "", f.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"carNumber":"CAR13"}`, rec.Body.String())
}

func TestVehicleMutations(t *testing.T) {
	f := newFixture(t, "")
	token := f.token(t)

	rec := f.do(t, http.MethodPost, "/api/v1/vehicles", `{"carNumber":"CAR13","make":"VW","model":"Golf","colour":"white","owner":"alice"}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPut, "/api/v1/CAR13/owner", `{"owner":"bob"}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPut, "/api/v1/CAR13/owner/confirm", "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodDelete, "/api/v1/CAR13", "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []submitted{
		{"createCar", []string{"CAR13", "VW", "Golf", "white", "alice"}, testWalletKey},
		{"changeCarOwner", []string{"CAR13", "bob"}, testWalletKey},
		{"confirmTransfer", []string{"CAR13"}, testWalletKey},
		{"deleteCar", []string{"CAR13"}, testWalletKey},
	}, f.ledger.submits)
}

func TestCreateVehicleValidation(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/vehicles", `{"make":"VW"}`, f.token(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/v1/CAR1/owner", `{}`, f.token(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.ledger.submits)
}

func TestVehicleHistory(t *testing.T) {
	f := newFixture(t, "")
	f.ledger.payloads["getPreviousOwners"] = `{
		"previousOwnerCount": 1,
		"previousOwners": ["bob"],
		"previousOwnershipChangeDates": ["2020-01-01T00:00:00.000Z"],
		"currentOwner": "alice",
		"currentOwnershipChangeDate": "2020-02-01T00:00:00.000Z"
	}`

	rec := f.do(t, http.MethodGet, "/api/v1/CAR12/history", "", f.token(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[
		{"owner":"alice","from":1580515200000},
		{"owner":"bob","from":1577836800000,"to":1580515200000}
	]`, rec.Body.String())
}

func TestLedgerErrors(t *testing.T) {
	f := newFixture(t, "")
	f.ledger.err = errors.New("car CAR1 does not exist")

	rec := f.do(t, http.MethodDelete, "/api/v1/CAR1", "", f.token(t))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error deleting car: car CAR1 does not exist", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/bob/vehicles", "", f.token(t))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Error retrieving specific user cars: "))
}

func TestUnknownWalletKeyIsGone(t *testing.T) {
	f := newFixture(t, "")
	f.ledger.err = errors.Wrap(ledger.ErrIdentityNotFound, "key wallet-alice")

	rec := f.do(t, http.MethodGet, "/api/v1/vehicles", "", f.token(t))
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "Auth error", rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRefreshToken(t *testing.T) {
	f := newFixture(t, "")
	expired, err := auth.NewIssuer(testSecret, -time.Minute, time.Hour).AccessToken("alice", testWalletKey)
	require.NoError(t, err)
	refresh, err := f.issuer.RefreshToken()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/refresh-token", nil)
	req.Header.Set("Authorization", "Bearer "+expired.Token)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: refresh})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := auth.AccessToken{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	claims, err := f.issuer.VerifyAccess(resp.Token, false)
	require.NoError(t, err)
	assert.Equal(t, testWalletKey, claims.WalletKey)

	// an access token is not accepted in place of the refresh cookie
	req = httptest.NewRequest(http.MethodGet, "/api/v1/refresh-token", nil)
	req.Header.Set("Authorization", "Bearer "+expired.Token)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: f.token(t)})
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/refresh-token", "", expired.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v1/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.ledger.readyErr = errors.New("peer unreachable")
	rec = f.do(t, http.MethodGet, "/api/v1/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMiddlewareHeaders(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodOptions, "/api/v1/vehicles", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = f.do(t, http.MethodGet, "/api/v1/healthz", "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestServesUI(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>drivenet</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	f := newFixture(t, dir)

	rec := f.do(t, http.MethodGet, "/app.js", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/garage/CAR12", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("drivenet")))

	rec = f.do(t, http.MethodGet, "/api/v1/healthz", "", "")
	assert.Equal(t, "ok", rec.Body.String())
}
