package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Info("merged stops", "inserted", 3, "kind", "stops")

	line := decodeLine(t, &buf)
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "merged stops", line["message"])
	assert.Equal(t, float64(3), line["inserted"])
	assert.Equal(t, "stops", line["kind"])
}

func TestErrorFieldUsesErr(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Error("load failed", "error", errors.New("boom"))

	line := decodeLine(t, &buf)
	assert.Equal(t, "boom", line[zerolog.ErrorFieldName])
}

func TestMapFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)

	log.Warn("contradictory exception", map[string]interface{}{"service_id": "S1"})

	line := decodeLine(t, &buf)
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "S1", line["service_id"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newWithLevel(zerolog.WarnLevel, &buf)

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestNilWritersDiscard(t *testing.T) {
	log := New(nil)
	require.NotNil(t, log)
	log.Info("nothing happens")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLogLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLogLevel("nonsense"))
	assert.Equal(t, zerolog.InfoLevel, ParseLogLevel(""))
}
