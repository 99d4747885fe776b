package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToServiceNameAndInfoLevel(t *testing.T) {
	logger := New(Options{})
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	var buf bytes.Buffer
	scoped := logger.Output(&buf)
	scoped.Info().Msg("hello")
	require.Contains(t, buf.String(), `"service":"scbroker"`)
	require.Contains(t, buf.String(), `"message":"hello"`)
}

func TestParseLevelUnknownFallsBackToInfo(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	require.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	require.Equal(t, zerolog.InfoLevel, parseLevel("nonsense"))
}

func TestLogErrorIncludesFieldsAndMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogError(logger, errors.New("boom"), "push failed", map[string]interface{}{"client": "alice"})

	out := buf.String()
	require.True(t, strings.Contains(out, "boom"))
	require.True(t, strings.Contains(out, "push failed"))
	require.True(t, strings.Contains(out, "alice"))
}
