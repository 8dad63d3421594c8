package faketransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/jrsteele09/go-auth-client/transport/httptransport"
	"github.com/pkg/errors"
)

// RouteSession reports the subject of a bearer access token. It is not part of
// transport.Transport; it lets developers check tokens issued by the backend.
const RouteSession = "/auth/session"

const maxBodyBytes = 1 << 20

// Handler serves the backend over the identity service wire API.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(b.requestLogger)

	r.Post(httptransport.RouteLogin, b.handleLogin)
	r.Post(httptransport.RouteSignup, b.handleSignup)
	r.Post(httptransport.RouteVerifyEmail, b.handleVerifyEmail)
	r.Post(httptransport.RouteResendVerification, b.handleResend)
	r.Post(httptransport.RouteForgotPassword, b.handleForgotPassword)
	r.Post(httptransport.RouteResetPassword, b.handleResetPassword)
	r.Post(httptransport.RouteSocialExchange, b.handleSocialExchange)
	r.Get(RouteSession, b.handleSession)
	return r
}

func (b *Backend) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		b.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", r.Header.Get(httptransport.HeaderRequestID)).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req httptransport.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := b.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(res))
}

func (b *Backend) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req httptransport.SignupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := b.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	b.logVerificationMail(res.UserID)
	writeJSON(w, http.StatusCreated, httptransport.SignupResponse{
		UserID:            res.UserID,
		CodeLength:        res.Verification.CodeLength,
		AttemptsAllowed:   res.Verification.AttemptsAllowed,
		ExpiresAt:         httptransport.TimePtr(res.Verification.ExpiresAt),
		ResendAvailableAt: httptransport.TimePtr(res.Verification.ResendAvailableAt),
	})
}

func (b *Backend) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req httptransport.VerifyEmailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := b.VerifyEmail(r.Context(), req.UserID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httptransport.VerifyResponse{
		Verified:  res.Verified,
		ExpiresAt: httptransport.TimePtr(res.ExpiresAt),
	})
}

func (b *Backend) handleResend(w http.ResponseWriter, r *http.Request) {
	var req httptransport.ResendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := b.ResendVerification(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	b.logVerificationMail(req.UserID)
	writeJSON(w, http.StatusOK, httptransport.ResendResponse{
		ResendAvailableAt: httptransport.TimePtr(res.ResendAvailableAt),
		ExpiresAt:         httptransport.TimePtr(res.ExpiresAt),
	})
}

func (b *Backend) logVerificationMail(userID string) {
	if code, ok := b.VerificationCode(userID); ok {
		b.logger.Info().Str("user_id", userID).Str("code", code).Msg("verification mail (dev)")
	}
}

func (b *Backend) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req httptransport.ForgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := b.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if token, ok := b.ResetToken(req.Email); ok {
		b.logger.Info().Str("email", req.Email).Str("reset_link", "/reset-password?token="+token).Msg("password reset mail (dev)")
	}
	writeJSON(w, http.StatusAccepted, httptransport.ForgotPasswordResponse{Accepted: res.Accepted})
}

func (b *Backend) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req httptransport.ResetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := b.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, httptransport.ResetPasswordResponse{Reset: res.Reset})
}

func (b *Backend) handleSocialExchange(w http.ResponseWriter, r *http.Request) {
	var req httptransport.SocialExchangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := b.ExchangeSocialCredential(r.Context(), req.Provider, req.ProviderToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(res))
}

func (b *Backend) handleSession(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		writeError(w, transport.ErrInvalidCredentials)
		return
	}
	subject, err := b.ParseAccessToken(raw)
	if err != nil {
		writeError(w, errors.Wrap(transport.ErrInvalidCredentials, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": subject})
}

func sessionResponse(res transport.LoginResult) httptransport.SessionResponse {
	return httptransport.SessionResponse{
		UserID:      res.UserID,
		DisplayName: res.DisplayName,
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   httptransport.TimePtr(res.ExpiresAt),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, httptransport.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: err.Error(),
		})
		return false
	}
	return true
}

var statusByCode = map[string]int{
	transport.CodeInvalidCredentials: http.StatusUnauthorized,
	transport.CodeAccountNotVerified: http.StatusForbidden,
	transport.CodeAccountExists:      http.StatusConflict,
	transport.CodeAccountNotFound:    http.StatusNotFound,
	transport.CodeCodeRejected:       http.StatusUnprocessableEntity,
	transport.CodeExpired:            http.StatusGone,
	transport.CodeRateLimited:        http.StatusTooManyRequests,
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, transport.ErrNetwork) || errors.Is(err, context.Canceled) {
		writeJSON(w, http.StatusServiceUnavailable, httptransport.ErrorResponse{Error: "unavailable"})
		return
	}
	code, ok := transport.CodeForError(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, httptransport.ErrorResponse{Error: "server_error"})
		return
	}
	writeJSON(w, statusByCode[code], httptransport.ErrorResponse{Error: code, ErrorDescription: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
