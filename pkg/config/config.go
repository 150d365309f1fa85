// Package config holds the named coordination thresholds. Every magic
// number the protocol depends on lives here so deployments can tune them
// without touching call sites.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries the coordination thresholds and partitioning defaults.
type Config struct {
	// HeartbeatStaleness is the heartbeat age beyond which a worker is
	// reported offline at read time. The override is advisory; it never
	// releases jobs by itself.
	HeartbeatStaleness time.Duration

	// AssignmentGraceWindow is how long a processing assignment still
	// counts against completion. Older assignments are treated as stuck
	// and ignored by the reconciler.
	AssignmentGraceWindow time.Duration

	// ForceCompleteMinPercent is the generation coverage required to
	// force-complete an experiment outright.
	ForceCompleteMinPercent float64

	// ForceCompleteFinalPercent is the relaxed coverage accepted when the
	// final generation is present.
	ForceCompleteFinalPercent float64

	// BatchGenerations is the number of generations per dispatched
	// assignment.
	BatchGenerations int

	// SweepInterval is how often the background reconciliation sweep
	// re-checks non-terminal experiments.
	SweepInterval time.Duration
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		HeartbeatStaleness:        90 * time.Second,
		AssignmentGraceWindow:     10 * time.Minute,
		ForceCompleteMinPercent:   0.95,
		ForceCompleteFinalPercent: 0.90,
		BatchGenerations:          100,
		SweepInterval:             30 * time.Second,
	}
}

// FromEnv returns the defaults with any EVONASH_* environment overrides
// applied.
func FromEnv() Config {
	cfg := Default()
	cfg.HeartbeatStaleness = envDuration("EVONASH_HEARTBEAT_STALENESS_SECONDS", cfg.HeartbeatStaleness)
	cfg.AssignmentGraceWindow = envDuration("EVONASH_ASSIGNMENT_GRACE_SECONDS", cfg.AssignmentGraceWindow)
	cfg.ForceCompleteMinPercent = envFloat("EVONASH_FORCE_COMPLETE_MIN_PERCENT", cfg.ForceCompleteMinPercent)
	cfg.ForceCompleteFinalPercent = envFloat("EVONASH_FORCE_COMPLETE_FINAL_PERCENT", cfg.ForceCompleteFinalPercent)
	cfg.BatchGenerations = envInt("EVONASH_BATCH_GENERATIONS", cfg.BatchGenerations)
	cfg.SweepInterval = envDuration("EVONASH_SWEEP_INTERVAL_SECONDS", cfg.SweepInterval)
	return cfg
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || v > 1 {
		return fallback
	}
	return v
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
