package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "warn", false)
	require.NoError(t, err)

	l.Info().Msg("hidden")
	Component(l, "lrupeer").Warn().Msg("shown")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "lrupeer", rec["component"])
	assert.Equal(t, "shown", rec["message"])
	assert.Contains(t, rec, "time")
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "", true)
	require.NoError(t, err)

	l.Info().Str("peer", "a").Msg("connected")
	assert.Contains(t, buf.String(), "connected")
	assert.Contains(t, buf.String(), "peer=")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", false)
	require.Error(t, err)
}
