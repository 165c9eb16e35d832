package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	l := Logger("syncqueue")
	l.Debug().Int("batch", 3).Msg("flush")

	out := buf.String()
	assert.Contains(t, out, `"component":"syncqueue"`)
	assert.Contains(t, out, `"batch":3`)
	assert.Contains(t, out, `"message":"flush"`)
}

func TestInitRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Info().Msg("hidden")
	require.Empty(t, buf.String())
	Error().Msg("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
	assert.Equal(t, zerolog.Disabled, parseLevel("off"))
}

func TestLoggerChainsOnCallResult(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	Logger("ledger").Warn().Str("day", "2024-03-04").Msg("marker write failed")
	Logger("ledger").Info().Msg("hidden")

	out := buf.String()
	assert.Contains(t, out, `"component":"ledger"`)
	assert.Contains(t, out, `"day":"2024-03-04"`)
	assert.NotContains(t, out, "hidden")
}

func TestLoggerReturnsIndependentCopies(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Init(Config{}) })

	a := Logger("a")
	*a = a.Level(zerolog.ErrorLevel)
	Logger("b").Info().Msg("still logged")

	assert.Contains(t, buf.String(), "still logged")
}
