package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{JSON: true, Out: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	exportLog := WithComponent("export")
	exportLog.Info().Str("job", "abc").Msg("starting export")
	exportLog.Debug().Msg("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "export", line["component"])
	assert.Equal(t, "abc", line["job"])
	assert.Equal(t, "starting export", line["message"])
	assert.Contains(t, line, "time")
}

func TestSetupVerbose(t *testing.T) {
	var buf bytes.Buffer
	Setup(Options{Verbose: true, JSON: true, Out: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	mediaLog := WithComponent("media")
	mediaLog.Debug().Msg("no frame")
	assert.Contains(t, buf.String(), "no frame")
}

func TestNewLoggerMulti(t *testing.T) {
	var a, b bytes.Buffer
	logger := NewLogger(&a, &b)
	logger.Info().Msg("hello")

	assert.Contains(t, a.String(), "hello")
	assert.Contains(t, b.String(), "hello")
}
