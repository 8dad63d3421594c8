package httptransport

// Identity service routes, relative to the client's base URL.
const (
	RouteLogin              = "/auth/login"
	RouteSignup             = "/auth/signup"
	RouteVerifyEmail        = "/auth/verify-email"
	RouteResendVerification = "/auth/verify-email/resend"
	RouteForgotPassword     = "/auth/forgot-password"
	RouteResetPassword      = "/auth/reset-password"
	RouteSocialExchange     = "/auth/social/exchange"
)

// HeaderRequestID carries a per-attempt identifier for correlating client and service logs.
const HeaderRequestID = "X-Request-ID"
