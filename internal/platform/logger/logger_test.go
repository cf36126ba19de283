package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_EmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "production")

	log.Info("epoch sealed", "epoch", 4)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "epoch sealed", line["msg"])
	assert.Equal(t, "veritas", line["service"])
	assert.EqualValues(t, 4, line["epoch"])
}

func TestNewWithWriter_LevelByEnvironment(t *testing.T) {
	var prod, dev bytes.Buffer
	NewWithWriter(&prod, "production").Debug("hidden")
	NewWithWriter(&dev, "development").Debug("shown")

	assert.Empty(t, prod.String())
	assert.Contains(t, dev.String(), "shown")
}
