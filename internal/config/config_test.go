package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 30, cfg.Triage.RetentionDays)
	assert.Equal(t, 10*time.Second, cfg.Probe.Timeout)
	assert.NotEmpty(t, cfg.Deltas.StagingDir)
	assert.NotEmpty(t, cfg.Deltas.ReadyDir)
	assert.NotEqual(t, cfg.Deltas.StagingDir, cfg.Deltas.ReadyDir,
		"staging and ready must be distinct for the two-phase rename")
}
