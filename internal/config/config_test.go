package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsMatchFixedKnobs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loader, err := Load("", logger)
	require.NoError(t, err)

	cfg := loader.Current()
	assert.Equal(t, 24*time.Hour, cfg.BackfillWindow)
	assert.Equal(t, 28*time.Minute, cfg.IdleMax)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 5*time.Second, cfg.RetryBase)
	assert.Equal(t, 60*time.Second, cfg.RetryCap)
	assert.Equal(t, 30*time.Second, cfg.WSHeartbeat)
	assert.Equal(t, 5*time.Second, cfg.WSWriteTimeout)
	assert.Equal(t, 256, cfg.SessionQueue)
	assert.Equal(t, 10*time.Second, cfg.ShutdownDeadline)
}
