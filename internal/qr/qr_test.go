package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNG(t *testing.T) {
	data, err := PNG("http://localhost:3000/mobile/proof/abc123", 0)
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, cfg.Width)
}

func TestTerminal(t *testing.T) {
	out, err := Terminal("http://localhost:3000/mobile/proof/abc123")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Contains(t, out, "\n")
}
