package config

import (
	"strings"
	"time"
)

type EnvVars struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	AppName        string        `env:"APP_NAME" envDefault:"Auth Dev"`
	Env            string        `env:"ENV" envDefault:"DEV"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	ServiceURL     string        `env:"AUTH_SERVICE_URL" envDefault:"http://localhost:8080"`
	RequestTimeout time.Duration `env:"AUTH_REQUEST_TIMEOUT" envDefault:"15s"`
}

var _ EnvConfig = EnvVars{}

// GetPort returns the listen address, always with a leading colon.
func (e EnvVars) GetPort() string {
	if strings.HasPrefix(e.Port, ":") {
		return e.Port
	}
	return ":" + e.Port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return strings.ToUpper(e.Env)
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetServiceURL is the base URL of the identity service, e.g. "https://id.example.com".
func (e EnvVars) GetServiceURL() string {
	return strings.TrimRight(e.ServiceURL, "/")
}

func (e EnvVars) GetRequestTimeout() time.Duration {
	return e.RequestTimeout
}
