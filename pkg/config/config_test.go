package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 90*time.Second, cfg.HeartbeatStaleness)
	assert.Equal(t, 10*time.Minute, cfg.AssignmentGraceWindow)
	assert.Equal(t, 0.95, cfg.ForceCompleteMinPercent)
	assert.Equal(t, 0.90, cfg.ForceCompleteFinalPercent)
	assert.Equal(t, 100, cfg.BatchGenerations)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("EVONASH_HEARTBEAT_STALENESS_SECONDS", "120")
	t.Setenv("EVONASH_FORCE_COMPLETE_MIN_PERCENT", "0.8")
	t.Setenv("EVONASH_BATCH_GENERATIONS", "250")

	cfg := FromEnv()
	assert.Equal(t, 120*time.Second, cfg.HeartbeatStaleness)
	assert.Equal(t, 0.8, cfg.ForceCompleteMinPercent)
	assert.Equal(t, 250, cfg.BatchGenerations)
	assert.Equal(t, 10*time.Minute, cfg.AssignmentGraceWindow, "unset vars keep defaults")
}

func TestFromEnv_RejectsInvalidValues(t *testing.T) {
	t.Setenv("EVONASH_HEARTBEAT_STALENESS_SECONDS", "not-a-number")
	t.Setenv("EVONASH_FORCE_COMPLETE_MIN_PERCENT", "1.5")
	t.Setenv("EVONASH_BATCH_GENERATIONS", "-10")

	cfg := FromEnv()
	assert.Equal(t, Default(), cfg, "invalid overrides fall back to defaults")
}
