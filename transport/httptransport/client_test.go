package httptransport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/jrsteele09/go-auth-client/transport/httptransport"
	faketransport "github.com/jrsteele09/go-auth-client/transport/transportfake"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testFixture struct {
	backend *faketransport.Backend
	server  *httptest.Server
	client  *httptransport.Client
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	backend := faketransport.NewBackend(
		faketransport.WithNowTime(func() time.Time { return testNow }),
		faketransport.WithPasswordCost(bcrypt.MinCost),
		faketransport.WithCodeGenerator(func(length int) string { return "123456"[:length] }),
	)
	server := httptest.NewServer(backend.Handler())
	t.Cleanup(server.Close)

	client, err := httptransport.New(server.URL)
	require.NoError(t, err)
	return &testFixture{backend: backend, server: server, client: client}
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := httptransport.New("")
	require.Error(t, err)

	_, err = httptransport.New("ftp://example.com")
	require.Error(t, err)
}

func TestClient_Login(t *testing.T) {
	f := setupTestFixture(t)
	userID, err := f.backend.CreateAccount("a@b.com", "Passw0rd!", true)
	require.NoError(t, err)

	res, err := f.client.Login(context.Background(), "a@b.com", "Passw0rd!")
	require.NoError(t, err)
	require.Equal(t, userID, res.UserID)
	require.NotEmpty(t, res.AccessToken)
	require.True(t, res.ExpiresAt.Equal(testNow.Add(time.Hour)))

	_, err = f.client.Login(context.Background(), "a@b.com", "wrong-password")
	require.ErrorIs(t, err, transport.ErrInvalidCredentials)
}

func TestClient_LoginUnverified(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.backend.CreateAccount("a@b.com", "Passw0rd!", false)
	require.NoError(t, err)

	_, err = f.client.Login(context.Background(), "a@b.com", "Passw0rd!")
	require.ErrorIs(t, err, transport.ErrAccountNotVerified)
}

func TestClient_SignupAndVerify(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	signup, err := f.client.Signup(ctx, "new@b.com", "Passw0rd!")
	require.NoError(t, err)
	require.NotEmpty(t, signup.UserID)
	require.Equal(t, 6, signup.Verification.CodeLength)
	require.Equal(t, 5, signup.Verification.AttemptsAllowed)
	require.True(t, signup.Verification.ResendAvailableAt.Equal(testNow.Add(60*time.Second)))

	_, err = f.client.Signup(ctx, "new@b.com", "Passw0rd!")
	require.ErrorIs(t, err, transport.ErrAccountExists)

	_, err = f.client.VerifyEmail(ctx, signup.UserID, "000000")
	require.ErrorIs(t, err, transport.ErrCodeRejected)

	_, err = f.client.ResendVerification(ctx, signup.UserID)
	require.ErrorIs(t, err, transport.ErrRateLimited)

	verified, err := f.client.VerifyEmail(ctx, signup.UserID, "123456")
	require.NoError(t, err)
	require.True(t, verified.Verified)
	require.True(t, verified.ExpiresAt.Equal(testNow.Add(time.Hour)))
}

func TestClient_PasswordReset(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	_, err := f.backend.CreateAccount("a@b.com", "Passw0rd!", true)
	require.NoError(t, err)

	_, err = f.client.RequestPasswordReset(ctx, "nobody@b.com")
	require.ErrorIs(t, err, transport.ErrAccountNotFound)

	res, err := f.client.RequestPasswordReset(ctx, "a@b.com")
	require.NoError(t, err)
	require.True(t, res.Accepted)

	token, ok := f.backend.ResetToken("a@b.com")
	require.True(t, ok)

	reset, err := f.client.ConfirmPasswordReset(ctx, token, "N3wPassw0rd!")
	require.NoError(t, err)
	require.True(t, reset.Reset)

	_, err = f.client.ConfirmPasswordReset(ctx, token, "N3wPassw0rd!")
	require.ErrorIs(t, err, transport.ErrExpired)

	_, err = f.client.Login(ctx, "a@b.com", "N3wPassw0rd!")
	require.NoError(t, err)
}

func TestClient_SocialExchange(t *testing.T) {
	f := setupTestFixture(t)

	first, err := f.client.ExchangeSocialCredential(context.Background(), "google", "provider-token")
	require.NoError(t, err)
	second, err := f.client.ExchangeSocialCredential(context.Background(), "google", "provider-token")
	require.NoError(t, err)
	require.Equal(t, first.UserID, second.UserID)
}

// flakyRoundTripper fails the first failures round trips without reaching the
// server, then passes requests through.
type flakyRoundTripper struct {
	failures int32
	trips    atomic.Int32
}

func (f *flakyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.trips.Add(1) <= f.failures {
		return nil, errors.New("connection refused")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestClient_RetriesOnceOnConnectionFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httptransport.SessionResponse{UserID: "u1", AccessToken: "opaque", ExpiresIn: 60})
	}))
	defer server.Close()

	rt := &flakyRoundTripper{failures: 1}
	client, err := httptransport.New(server.URL,
		httptransport.WithNowTime(func() time.Time { return testNow }),
		httptransport.WithHTTPClient(&http.Client{Transport: rt}),
	)
	require.NoError(t, err)

	res, err := client.Login(context.Background(), "a@b.com", "Passw0rd!")
	require.NoError(t, err)
	require.Equal(t, "u1", res.UserID)
	require.True(t, res.ExpiresAt.Equal(testNow.Add(time.Minute)))
	require.EqualValues(t, 2, rt.trips.Load())
	require.EqualValues(t, 1, calls.Load())
}

func TestClient_GivesUpAfterOneRetry(t *testing.T) {
	rt := &flakyRoundTripper{failures: 10}
	client, err := httptransport.New("http://identity.invalid", httptransport.WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "a@b.com", "Passw0rd!")
	require.ErrorIs(t, err, transport.ErrNetwork)
	require.EqualValues(t, 2, rt.trips.Load())
}

func TestClient_DoesNotRetryGatewayErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout} {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		client, err := httptransport.New(server.URL)
		require.NoError(t, err)

		_, err = client.Signup(context.Background(), "a@b.com", "Passw0rd!")
		require.ErrorIs(t, err, transport.ErrNetwork)
		require.EqualValues(t, 1, calls.Load(), "status %d", status)
		server.Close()
	}
}

func TestClient_DoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(httptransport.ErrorResponse{Error: transport.CodeInvalidCredentials})
	}))
	defer server.Close()

	client, err := httptransport.New(server.URL)
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "a@b.com", "Passw0rd!")
	require.ErrorIs(t, err, transport.ErrInvalidCredentials)
	require.EqualValues(t, 1, calls.Load())
}

func TestClient_WithoutRetry(t *testing.T) {
	rt := &flakyRoundTripper{failures: 1}
	client, err := httptransport.New("http://identity.invalid",
		httptransport.WithoutRetry(),
		httptransport.WithHTTPClient(&http.Client{Transport: rt}),
	)
	require.NoError(t, err)

	_, err = client.RequestPasswordReset(context.Background(), "a@b.com")
	require.ErrorIs(t, err, transport.ErrNetwork)
	require.EqualValues(t, 1, rt.trips.Load())
}

func TestClient_UnreachableServiceIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := httptransport.New(url)
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "a@b.com", "Passw0rd!")
	require.ErrorIs(t, err, transport.ErrNetwork)
}

func TestClient_ExpiryFromAccessTokenClaim(t *testing.T) {
	exp := testNow.Add(30 * time.Minute)
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, httptransport.RouteSocialExchange, r.URL.Path)
		require.NotEmpty(t, r.Header.Get(httptransport.HeaderRequestID))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httptransport.SessionResponse{UserID: "u1", AccessToken: token})
	}))
	defer server.Close()

	client, err := httptransport.New(server.URL)
	require.NoError(t, err)

	res, err := client.ExchangeSocialCredential(context.Background(), "google", "id-token")
	require.NoError(t, err)
	require.Equal(t, exp.Unix(), res.ExpiresAt.Unix())
}

func TestClient_UnknownErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	client, err := httptransport.New(server.URL)
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "a@b.com", "Passw0rd!")
	require.Error(t, err)
	_, isTaxonomy := transport.CodeForError(err)
	require.False(t, isTaxonomy)
	require.NotErrorIs(t, err, transport.ErrNetwork)
}
