package authflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/authflow"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/transport"
	faketransport "github.com/jrsteele09/go-auth-client/transport/transportfake"
	"github.com/stretchr/testify/require"
)

func TestRequestPasswordReset_UnknownAndKnownLookIdentical(t *testing.T) {
	f := setupTestFixture(t)
	f.createAccount(t)
	ctx := context.Background()

	require.NoError(t, f.controller.RequestPasswordReset(ctx, "nobody@example.com"))
	unknownStatus := f.controller.Status(authflow.KindForgotPassword)
	unknownTicket, ok := f.controller.ResetTicket()
	require.True(t, ok)

	require.NoError(t, f.controller.RequestPasswordReset(ctx, testEmail))
	knownStatus := f.controller.Status(authflow.KindForgotPassword)
	knownTicket, ok := f.controller.ResetTicket()
	require.True(t, ok)

	require.Equal(t, authflow.StateRequested, unknownStatus.State)
	require.Equal(t, unknownStatus.State, knownStatus.State)
	require.Equal(t, unknownStatus.Err, knownStatus.Err)
	require.Equal(t, unknownTicket, knownTicket)
	require.Equal(t, f.clock.Now().Add(30*time.Minute), knownTicket.ExpiresAt)
	require.Equal(t, 2, f.backend.Calls(faketransport.OpRequestPasswordReset))
}

func TestRequestPasswordReset_MalformedEmailMakesNoCall(t *testing.T) {
	f := setupTestFixture(t)

	err := f.controller.RequestPasswordReset(context.Background(), "a@@b")
	require.ErrorIs(t, err, credentials.ErrMalformedEmail)
	require.Equal(t, 0, f.backend.Calls(faketransport.OpRequestPasswordReset))
	_, ok := f.controller.ResetTicket()
	require.False(t, ok)
}

func TestRequestPasswordReset_NetworkFailureCanBeResubmitted(t *testing.T) {
	f := setupTestFixture(t)
	f.createAccount(t)
	f.gate.fail(faketransport.OpRequestPasswordReset, transport.ErrNetwork)

	err := f.controller.RequestPasswordReset(context.Background(), testEmail)
	require.ErrorIs(t, err, transport.ErrNetwork)
	require.Equal(t, authflow.StateFailed, f.controller.Status(authflow.KindForgotPassword).State)

	f.gate.fail(faketransport.OpRequestPasswordReset, nil)
	require.NoError(t, f.controller.RequestPasswordReset(context.Background(), testEmail))
	require.Equal(t, authflow.StateRequested, f.controller.Status(authflow.KindForgotPassword).State)
}

func TestConfirmPasswordReset_DoesNotAuthenticate(t *testing.T) {
	f := setupTestFixture(t)
	f.createAccount(t)
	ctx := context.Background()

	require.NoError(t, f.controller.RequestPasswordReset(ctx, testEmail))
	token, ok := f.backend.ResetToken(testEmail)
	require.True(t, ok)

	require.NoError(t, f.controller.ConfirmPasswordReset(ctx, token, "N3w-passw0rd"))
	require.Equal(t, authflow.StateReset, f.controller.Status(authflow.KindResetPassword).State)
	require.Equal(t, session.StatusAnonymous, f.store.Current().Status)
	_, ok = f.controller.ResetTicket()
	require.False(t, ok)

	require.ErrorIs(t, f.controller.Login(ctx, testEmail, testPassword), transport.ErrInvalidCredentials)
	require.NoError(t, f.controller.Login(ctx, testEmail, "N3w-passw0rd"))
}

func TestConfirmPasswordReset_WithoutLocalTicket(t *testing.T) {
	f := setupTestFixture(t)
	f.createAccount(t)
	ctx := context.Background()

	_, err := f.backend.RequestPasswordReset(ctx, testEmail)
	require.NoError(t, err)
	token, _ := f.backend.ResetToken(testEmail)

	require.NoError(t, f.controller.ConfirmPasswordReset(ctx, token, "N3w-passw0rd"))
	require.Equal(t, session.StatusAnonymous, f.store.Current().Status)
}

func TestConfirmPasswordReset_LocallyExpiredTicket(t *testing.T) {
	f := setupTestFixture(t, authflow.WithResetTTL(10*time.Minute))
	f.createAccount(t)
	ctx := context.Background()

	require.NoError(t, f.controller.RequestPasswordReset(ctx, testEmail))
	token, _ := f.backend.ResetToken(testEmail)
	f.clock.Advance(10 * time.Minute)

	err := f.controller.ConfirmPasswordReset(ctx, token, "N3w-passw0rd")
	require.ErrorIs(t, err, transport.ErrExpired)
	require.Equal(t, authflow.StateFailed, f.controller.Status(authflow.KindResetPassword).State)
	require.Equal(t, 0, f.backend.Calls(faketransport.OpConfirmPasswordReset))
}

func TestConfirmPasswordReset_RejectedToken(t *testing.T) {
	f := setupTestFixture(t)

	err := f.controller.ConfirmPasswordReset(context.Background(), "bogus-token", "N3w-passw0rd")
	require.ErrorIs(t, err, transport.ErrExpired)
	require.Equal(t, authflow.StateFailed, f.controller.Status(authflow.KindResetPassword).State)
}

func TestConfirmPasswordReset_ValidatesInput(t *testing.T) {
	f := setupTestFixture(t)

	require.ErrorIs(t, f.controller.ConfirmPasswordReset(context.Background(), " ", "N3w-passw0rd"), credentials.ErrEmptyField)
	require.ErrorIs(t, f.controller.ConfirmPasswordReset(context.Background(), "token", "weak"), credentials.ErrPasswordTooWeak)
	require.Equal(t, 0, f.backend.Calls(faketransport.OpConfirmPasswordReset))
}
