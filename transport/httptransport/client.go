// Package httptransport implements transport.Transport as JSON over HTTP.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName            = "github.com/jrsteele09/go-auth-client/transport/httptransport"
	defaultRequestTimeout = 15 * time.Second
	maxErrorBodyBytes     = 64 << 10
)

var _ transport.Transport = (*Client)(nil)

// Client talks to the identity service over HTTP.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
	nowTime    func() time.Time
	tracer     trace.Tracer
	retry      bool
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (15s timeout).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithoutRetry disables the single automatic retry on connection failures.
func WithoutRetry() Option {
	return func(c *Client) {
		c.retry = false
	}
}

// New creates a Client for the identity service rooted at baseURL.
func New(baseURL string, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[httptransport.New] base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "[httptransport.New] invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("[httptransport.New] unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     log.Logger,
		nowTime:    time.Now,
		tracer:     otel.Tracer(tracerName),
		retry:      true,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (transport.LoginResult, error) {
	var resp SessionResponse
	if err := c.do(ctx, "login", RouteLogin, LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return transport.LoginResult{}, err
	}
	return c.loginResult(resp)
}

func (c *Client) Signup(ctx context.Context, email, password string) (transport.SignupResult, error) {
	var resp SignupResponse
	if err := c.do(ctx, "signup", RouteSignup, SignupRequest{Email: email, Password: password}, &resp); err != nil {
		return transport.SignupResult{}, err
	}
	if resp.UserID == "" {
		return transport.SignupResult{}, errors.New("[Client.Signup] response is missing user_id")
	}
	return transport.SignupResult{
		UserID: resp.UserID,
		Verification: transport.VerificationGrant{
			CodeLength:        resp.CodeLength,
			ExpiresAt:         timeValue(resp.ExpiresAt),
			AttemptsAllowed:   resp.AttemptsAllowed,
			ResendAvailableAt: timeValue(resp.ResendAvailableAt),
		},
	}, nil
}

func (c *Client) VerifyEmail(ctx context.Context, userID, code string) (transport.VerifyResult, error) {
	var resp VerifyResponse
	if err := c.do(ctx, "verify_email", RouteVerifyEmail, VerifyEmailRequest{UserID: userID, Code: code}, &resp); err != nil {
		return transport.VerifyResult{}, err
	}
	return transport.VerifyResult{
		Verified:  resp.Verified,
		ExpiresAt: c.sessionExpiry(resp.ExpiresAt, 0, resp.AccessToken),
	}, nil
}

func (c *Client) ResendVerification(ctx context.Context, userID string) (transport.ResendResult, error) {
	var resp ResendResponse
	if err := c.do(ctx, "resend_verification", RouteResendVerification, ResendRequest{UserID: userID}, &resp); err != nil {
		return transport.ResendResult{}, err
	}
	return transport.ResendResult{
		ResendAvailableAt: timeValue(resp.ResendAvailableAt),
		ExpiresAt:         timeValue(resp.ExpiresAt),
	}, nil
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) (transport.ResetRequestResult, error) {
	var resp ForgotPasswordResponse
	if err := c.do(ctx, "forgot_password", RouteForgotPassword, ForgotPasswordRequest{Email: email}, &resp); err != nil {
		return transport.ResetRequestResult{}, err
	}
	return transport.ResetRequestResult{Accepted: resp.Accepted}, nil
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (transport.ResetConfirmResult, error) {
	var resp ResetPasswordResponse
	if err := c.do(ctx, "reset_password", RouteResetPassword, ResetPasswordRequest{Token: token, NewPassword: newPassword}, &resp); err != nil {
		return transport.ResetConfirmResult{}, err
	}
	return transport.ResetConfirmResult{Reset: resp.Reset}, nil
}

func (c *Client) ExchangeSocialCredential(ctx context.Context, provider, providerToken string) (transport.LoginResult, error) {
	var resp SessionResponse
	req := SocialExchangeRequest{Provider: provider, ProviderToken: providerToken}
	if err := c.do(ctx, "social_exchange", RouteSocialExchange, req, &resp); err != nil {
		return transport.LoginResult{}, err
	}
	return c.loginResult(resp)
}

func (c *Client) loginResult(resp SessionResponse) (transport.LoginResult, error) {
	if resp.UserID == "" {
		return transport.LoginResult{}, errors.New("[Client.loginResult] response is missing user_id")
	}
	return transport.LoginResult{
		UserID:      resp.UserID,
		DisplayName: resp.DisplayName,
		AccessToken: resp.AccessToken,
		ExpiresAt:   c.sessionExpiry(resp.ExpiresAt, resp.ExpiresIn, resp.AccessToken),
	}, nil
}

// sessionExpiry prefers an explicit expiry, then a relative one, then the
// access token's exp claim. It returns the zero time when none is available.
func (c *Client) sessionExpiry(expiresAt *time.Time, expiresIn int64, accessToken string) time.Time {
	if expiresAt != nil && !expiresAt.IsZero() {
		return *expiresAt
	}
	if expiresIn > 0 {
		return c.nowTime().Add(time.Duration(expiresIn) * time.Second)
	}
	return tokenExpiry(accessToken)
}

// tokenExpiry reads the exp claim without verifying the signature: the token
// is opaque to this client and only its lifetime is of interest.
func tokenExpiry(accessToken string) time.Time {
	if accessToken == "" {
		return time.Time{}
	}
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (c *Client) do(ctx context.Context, op, route string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "auth."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.route", route))

	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "[Client.do] failed to encode %s request", op)
	}

	attempts := 1
	if c.retry {
		attempts = 2
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		requestID := uuid.NewString()
		var answered bool
		answered, err = c.post(ctx, route, requestID, body, out)
		if err == nil {
			c.logger.Debug().Str("op", op).Str("request_id", requestID).Int("attempt", attempt).Msg("identity service call succeeded")
			return nil
		}
		// Only a request that never got a response is sent again.
		if answered || !errors.Is(err, transport.ErrNetwork) || ctx.Err() != nil || attempt == attempts {
			break
		}
		c.logger.Warn().Err(err).Str("op", op).Str("request_id", requestID).Msg("identity service unreachable, retrying once")
	}

	span.SetAttributes(attribute.String("auth.outcome", outcome(err)))
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	c.logger.Debug().Err(err).Str("op", op).Msg("identity service call failed")
	return err
}

// post sends one request. answered reports whether the service produced any
// HTTP response at all.
func (c *Client) post(ctx context.Context, route, requestID string, body []byte, out any) (answered bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath(route).String(), bytes.NewReader(body))
	if err != nil {
		return false, errors.Wrap(err, "[Client.post] failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, errors.Wrapf(transport.ErrNetwork, "[Client.post] %s: %v", route, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return true, statusError(resp)
	}
	if out == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return true, errors.Wrapf(err, "[Client.post] failed to decode %s response", route)
	}
	return true, nil
}

// statusError maps a non-2xx response to the transport taxonomy. Coded bodies
// win; otherwise gateway failures count as network errors.
func statusError(resp *http.Response) error {
	var body ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	if sentinel := transport.ErrorForCode(body.Error); sentinel != nil {
		if body.ErrorDescription != "" && body.ErrorDescription != sentinel.Error() {
			return errors.Wrap(sentinel, body.ErrorDescription)
		}
		return sentinel
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return errors.Wrapf(transport.ErrNetwork, "status %d", resp.StatusCode)
	case http.StatusTooManyRequests:
		return transport.ErrRateLimited
	case http.StatusUnauthorized:
		return transport.ErrInvalidCredentials
	}
	if body.Error != "" {
		return errors.Errorf("identity service error %q (status %d)", body.Error, resp.StatusCode)
	}
	return errors.Errorf("identity service returned status %d", resp.StatusCode)
}

func outcome(err error) string {
	if code, ok := transport.CodeForError(err); ok {
		return code
	}
	if errors.Is(err, transport.ErrNetwork) {
		return "network"
	}
	return "error"
}
