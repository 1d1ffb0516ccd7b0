package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the host-editable runtime configuration. Everything here feeds
// engine.Config; content packs stay separate.
type Tuning struct {
	StepSizeMs    int   `yaml:"step_size_ms"`
	Seed          int64 `yaml:"seed"`
	QueueCapacity int   `yaml:"queue_capacity"`

	Bus BusTuning `yaml:"event_bus"`

	Dirty DirtyTuning `yaml:"dirty_detection"`

	Offline OfflineTuning `yaml:"offline"`

	SnapshotEverySteps int `yaml:"snapshot_every_steps"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type BusTuning struct {
	Capacity          int `yaml:"capacity"`
	SoftLimit         int `yaml:"soft_limit"`
	WarnCooldownTicks int `yaml:"warn_cooldown_ticks"`
	SlowHandlerMs     int `yaml:"slow_handler_ms"`
}

type DirtyTuning struct {
	AbsoluteFloor   float64 `yaml:"absolute_floor"`
	RelativeFactor  float64 `yaml:"relative_factor"`
	RelativeCeiling float64 `yaml:"relative_ceiling"`
	MaxOverride     float64 `yaml:"max_override"`
}

type OfflineTuning struct {
	MaxElapsedMs float64 `yaml:"max_elapsed_ms"`
	MaxSteps     float64 `yaml:"max_steps"`
	StepsPerTick int     `yaml:"steps_per_tick"`
}

type RateLimits struct {
	CommandsPerSecond float64 `yaml:"commands_per_second"`
	CommandBurst      int     `yaml:"command_burst"`
}

func Defaults() Tuning {
	return Tuning{
		StepSizeMs:    100,
		Seed:          1337,
		QueueCapacity: 1024,
		Bus: BusTuning{
			Capacity:          256,
			SoftLimit:         192,
			WarnCooldownTicks: 50,
			SlowHandlerMs:     2,
		},
		Offline: OfflineTuning{
			MaxElapsedMs: 12 * 60 * 60 * 1000,
			StepsPerTick: 500,
		},
		SnapshotEverySteps: 3000,
		RateLimits: RateLimits{
			CommandsPerSecond: 20,
			CommandBurst:      40,
		},
	}
}

// Load reads tuning.yaml, applying defaults for anything unset. An empty
// path returns pure defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.StepSizeMs <= 0 {
		return t, fmt.Errorf("tuning.yaml: step_size_ms must be positive, got %d", t.StepSizeMs)
	}
	return t, nil
}
