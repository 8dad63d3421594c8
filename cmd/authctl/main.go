package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/jrsteele09/go-auth-client/authflow"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/social"
	"github.com/jrsteele09/go-auth-client/transport/httptransport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const usage = `usage: authctl [-url URL] <command> [flags]

commands:
  login      -email E -password P
  signup     -email E -password P   then enter the emailed code ("resend" asks for a new one)
  forgot     -email E
  reset      -token T -password P
  social     -provider NAME         prints the sign-in URL, then reads the callback URL
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("authctl failed")
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	c, err := config.New()
	if err != nil {
		return err
	}
	logging.Setup(c.GetEnv(), c.GetLogLevel(), os.Stderr)

	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	serviceURL := fs.String("url", c.GetServiceURL(), "identity service base URL")
	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		return errUsage
	}

	w := &lockedWriter{w: out}
	a, err := newApp(c, *serviceURL, in, w)
	if err != nil {
		return err
	}
	defer a.close()

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "login":
		return a.login(ctx, rest)
	case "signup":
		return a.signup(ctx, rest)
	case "forgot":
		return a.forgot(ctx, rest)
	case "reset":
		return a.reset(ctx, rest)
	case "social":
		return a.social(ctx, rest)
	default:
		return errUsage
	}
}

// lockedWriter serialises command output with session snapshots, which are
// printed from the store's dispatcher goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type app struct {
	store       *session.Store
	controller  *authflow.Controller
	input       *bufio.Scanner
	out         io.Writer
	unsubscribe func()
}

func newApp(c config.Config, serviceURL string, in io.Reader, out io.Writer) (*app, error) {
	client, err := httptransport.New(serviceURL,
		httptransport.WithLogger(log.Logger),
		httptransport.WithHTTPClient(&http.Client{Timeout: c.GetRequestTimeout()}),
	)
	if err != nil {
		return nil, err
	}

	store, writer := session.NewStore(session.WithLogger(log.Logger))
	a := &app{store: store, input: bufio.NewScanner(in), out: out}
	a.unsubscribe = store.Subscribe(a.printSession)

	policy := c.GetPolicy()
	verification := c.GetVerificationConfig()
	verification.CodeLength = policy.CodeLength
	options := []authflow.Option{
		authflow.WithLogger(log.Logger),
		authflow.WithVerificationConfig(verification),
		authflow.WithResetTTL(c.GetResetTTL()),
		authflow.WithDefaultSessionTTL(c.GetDefaultSessionTTL()),
	}
	if providers := c.GetSocialProviders(); len(providers) > 0 {
		bridge, err := newBridge(c, providers)
		if err != nil {
			a.close()
			return nil, err
		}
		options = append(options, authflow.WithBridge(bridge))
	}

	a.controller, err = authflow.NewController(store, writer, client, credentials.NewValidator(policy), options...)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func newBridge(c config.Config, providers []social.ProviderConfig) (*social.Bridge, error) {
	options := []social.BridgeOption{
		social.WithLogger(log.Logger),
		social.WithStateTTL(c.GetStateTTL()),
	}
	if redisURL := c.GetRedisURL(); redisURL != "" {
		client, err := social.ConnectRedis(redisURL)
		if err != nil {
			return nil, err
		}
		options = append(options, social.WithStateStore(social.NewRedisStateStore(client, c.GetRedisKeyPrefix())))
	}
	return social.NewBridge(providers, options...)
}

func (a *app) close() {
	a.store.Close()
	a.unsubscribe()
}

func (a *app) printSession(s session.Session) {
	switch s.Status {
	case session.StatusAnonymous:
		fmt.Fprintf(a.out, "session v%d: signed out\n", s.Version)
	case session.StatusPendingVerification:
		fmt.Fprintf(a.out, "session v%d: %s awaiting email verification\n", s.Version, s.DisplayIdentity)
	default:
		fmt.Fprintf(a.out, "session v%d: signed in as %s until %s\n", s.Version, s.DisplayIdentity, s.ExpiresAt.Format("15:04:05"))
	}
}

func (a *app) readLine(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	if !a.input.Scan() {
		if err := a.input.Err(); err != nil {
			return "", errors.Wrap(err, "[readLine] read input")
		}
		return "", io.EOF
	}
	return strings.TrimSpace(a.input.Text()), nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return a.controller.Login(ctx, *email, *password)
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "new password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := a.controller.Signup(ctx, *email, *password); err != nil {
		return err
	}

	for {
		ticket, ok := a.controller.VerificationTicket()
		if !ok {
			return errors.New("verification is no longer pending")
		}
		line, err := a.readLine(fmt.Sprintf("%d digit code (%d attempts left): ", ticket.CodeLength, ticket.AttemptsRemaining))
		if err != nil {
			return err
		}

		if line == "resend" {
			if err := a.controller.ResendVerification(ctx); err != nil {
				fmt.Fprintf(a.out, "resend failed: %v\n", err)
			}
			continue
		}
		err = a.controller.VerifyEmail(ctx, line)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, authflow.ErrNoVerificationTicket), errors.Is(err, authflow.ErrStale):
			return err
		default:
			fmt.Fprintf(a.out, "%v\n", err)
		}
	}
}

func (a *app) forgot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forgot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := a.controller.RequestPasswordReset(ctx, *email); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "If an account exists for that address, a reset link is on its way.")
	return nil
}

func (a *app) reset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	token := fs.String("token", "", "token from the reset link")
	password := fs.String("password", "", "new password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if err := a.controller.ConfirmPasswordReset(ctx, *token, *password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed. Log in with the new password.")
	return nil
}

func (a *app) social(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("social", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	provider := fs.String("provider", "", "provider name, e.g. google")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	redirect, err := a.controller.BeginSocial(ctx, *provider)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Open this URL to sign in:\n%s\n", redirect.URL)

	callbackURL, err := a.readLine("callback URL: ")
	if err != nil {
		return err
	}
	resp, err := social.ParseCallback(redirect.Provider, callbackURL)
	if err != nil {
		return err
	}
	return a.controller.CompleteSocial(ctx, resp)
}
