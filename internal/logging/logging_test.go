package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONOutsideDev(t *testing.T) {
	previous := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(previous) })
	var buf bytes.Buffer

	logger := logging.Setup("PROD", "warn", &buf)
	logger.Info().Msg("dropped")
	logger.Warn().Str("flow", "login").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "login", entry["flow"])
}

func TestSetup_ConsoleInDevAndDefaultLevel(t *testing.T) {
	previous := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(previous) })
	var buf bytes.Buffer

	logger := logging.Setup("dev", "bogus", &buf)
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	logger.Info().Msg("hello")

	require.Contains(t, buf.String(), "hello")
	require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
