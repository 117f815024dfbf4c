package cache

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/asyncmem/internal/util"
)

// DefaultWait is the predicted wait for flows without a configured default.
const DefaultWait = time.Second

// FlowConfig holds per-flow prediction parameters. The manager never reads
// them; predictors do.
type FlowConfig struct {
	// DefaultWait is the prediction used before any wait has been observed.
	DefaultWait time.Duration `koanf:"default_wait" json:"default_wait" yaml:"default_wait"`
	// MaxWait caps any prediction for the flow (0 = uncapped).
	MaxWait time.Duration `koanf:"max_wait" json:"max_wait" yaml:"max_wait"`
}

// Config is the immutable engine configuration.
type Config struct {
	// Capacity is the soft bound on the summed estimated size of resident
	// payloads, in bytes.
	Capacity int64 `koanf:"capacity" json:"capacity" yaml:"capacity"`
	// InitialSize pre-sizes the candle heaps (total objects, split across shards).
	InitialSize int `koanf:"initial_size" json:"initial_size" yaml:"initial_size"`
	// Shards is the number of candles. 0 => GOMAXPROCS.
	Shards int `koanf:"shards" json:"shards" yaml:"shards"`
	// CleanupInterval is passed through to collaborators; the engine itself
	// runs no timers.
	CleanupInterval time.Duration `koanf:"cleanup_interval" json:"cleanup_interval" yaml:"cleanup_interval"`
	// Flows maps flow keys to prediction parameters.
	Flows map[string]FlowConfig `koanf:"flows" json:"flows" yaml:"flows"`
}

// FallbackFlow is the Flows entry used for flow keys without their own entry.
const FallbackFlow = "*"

// Flow returns the parameters for flowKey, falling back to FallbackFlow.
func (c *Config) Flow(flowKey string) FlowConfig {
	if f, ok := c.Flows[flowKey]; ok {
		return f
	}
	return c.Flows[FallbackFlow]
}

// Validate reports configuration errors wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be > 0, got %d", ErrInvalidConfig, c.Capacity)
	case c.InitialSize < 0:
		return fmt.Errorf("%w: initial_size must be >= 0, got %d", ErrInvalidConfig, c.InitialSize)
	case c.Shards < 0:
		return fmt.Errorf("%w: shards must be >= 0, got %d", ErrInvalidConfig, c.Shards)
	}
	for k, f := range c.Flows {
		if f.DefaultWait < 0 || f.MaxWait < 0 {
			return fmt.Errorf("%w: flow %q has a negative wait", ErrInvalidConfig, k)
		}
	}
	return nil
}

// Options configures the manager. Zero values are safe;
// sane defaults are applied in New():
//   - Shards <= 0   => util.DefaultShardCount()
//   - nil Predictor => per-flow DefaultWait
//   - nil Metrics   => NoopMetrics
//   - nil Logger    => zerolog.Nop()
//
// Store is required.
type Options struct {
	Config Config

	Predictor Predictor
	Store     Store

	// Observability
	Metrics Metrics
	Logger  *zerolog.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}

func (o *Options) applyDefaults() {
	if o.Config.Shards <= 0 {
		o.Config.Shards = util.DefaultShardCount()
	}
	if o.Predictor == nil {
		o.Predictor = flowDefaults{}
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = wallClock{}
	}
}

// flowDefaults predicts each flow's configured DefaultWait and learns nothing.
type flowDefaults struct{}

func (flowDefaults) Predict(cfg *Config, flowKey string, _ int64) time.Duration {
	f := cfg.Flow(flowKey)
	w := f.DefaultWait
	if w <= 0 {
		w = DefaultWait
	}
	if f.MaxWait > 0 && w > f.MaxWait {
		w = f.MaxWait
	}
	return w
}

func (flowDefaults) Observe(*Config, string, int64, time.Duration) {}
