package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	faketransport "github.com/jrsteele09/go-auth-client/transport/transportfake"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// devEnv holds settings that only the development identity service reads.
type devEnv struct {
	SigningKey string   `env:"AUTHDEV_SIGNING_KEY"`
	Accounts   []string `env:"AUTHDEV_ACCOUNTS" envSeparator:","`
}

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("authdev stopped with error")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("authdev stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	var dev devEnv
	if err := env.Parse(&dev); err != nil {
		return errors.Wrap(err, "[run] parse authdev env")
	}

	logger := logging.Setup(c.GetEnv(), c.GetLogLevel(), os.Stderr)
	displayAppname(c.GetAppName())

	backend, err := newBackend(c, dev)
	if err != nil {
		return err
	}
	handler := backend.Handler()
	if c.GetEnv() == "DEV" {
		logRoutes(handler)
	}

	server := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(server) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	logger.Info().Msg("shutting down")
	return shutdown(server)
}

func newBackend(c config.Config, dev devEnv) (*faketransport.Backend, error) {
	verification := c.GetVerificationConfig()
	options := []faketransport.Option{
		faketransport.WithLogger(log.Logger),
		faketransport.WithSessionTTL(c.GetDefaultSessionTTL()),
		faketransport.WithResetTTL(c.GetResetTTL()),
		faketransport.WithVerification(c.GetPolicy().CodeLength, verification.MaxAttempts, verification.TTL, verification.ResendCooldown),
	}
	if dev.SigningKey != "" {
		options = append(options, faketransport.WithSigningKey([]byte(dev.SigningKey)))
	}
	backend := faketransport.NewBackend(options...)

	for _, entry := range dev.Accounts {
		email, password, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errors.Errorf("[newBackend] account %q must be email:password", entry)
		}
		if _, err := backend.CreateAccount(email, password, true); err != nil {
			return nil, errors.Wrapf(err, "[newBackend] seed %s", email)
		}
		log.Info().Str("email", email).Msg("seeded verified account")
	}
	return backend, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("authdev listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server.ListenAndServe")
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
