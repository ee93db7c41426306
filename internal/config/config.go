package config

import (
	"fmt"
	"os"
	"strconv"
)

// Base seed for the fill-random kernels. Logical buffers derive their
// own streams from fixed offsets on top of this.
const DefaultSeed uint64 = 1019827666124465388

// Config carries the harness-wide knobs: random seed, comparison
// tolerances and logging. Per-test tensor shapes live on the tester.
type Config struct {
	Seed uint64

	// AbsTol and RelTol bound the accepted drift between a kernel
	// result and the double-precision reference.
	AbsTol float64
	RelTol float64

	// MaxFillThreadgroups caps fill-random kernel parallelism.
	MaxFillThreadgroups int

	LogLevel  string
	LogFormat string
}

func Default() Config {
	return Config{
		Seed:                DefaultSeed,
		AbsTol:              2.0e-4,
		RelTol:              1.0e-4,
		MaxFillThreadgroups: 10,
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// FromEnv overlays BODKIN_* environment variables on the defaults.
// Unparseable values are ignored rather than guessed at.
func FromEnv() Config {
	c := Default()
	if v := os.Getenv("BODKIN_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Seed = seed
		}
	}
	if v := os.Getenv("BODKIN_ABS_TOL"); v != "" {
		if tol, err := strconv.ParseFloat(v, 64); err == nil {
			c.AbsTol = tol
		}
	}
	if v := os.Getenv("BODKIN_REL_TOL"); v != "" {
		if tol, err := strconv.ParseFloat(v, 64); err == nil {
			c.RelTol = tol
		}
	}
	if v := os.Getenv("BODKIN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BODKIN_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	return c
}

func (c *Config) Validate() error {
	if c.AbsTol < 0 {
		return fmt.Errorf("invalid abs_tol: %g (must be non-negative)", c.AbsTol)
	}
	if c.RelTol < 0 {
		return fmt.Errorf("invalid rel_tol: %g (must be non-negative)", c.RelTol)
	}
	if c.AbsTol == 0 && c.RelTol == 0 {
		return fmt.Errorf("abs_tol and rel_tol are both zero; at least one must be positive")
	}
	if c.MaxFillThreadgroups <= 0 {
		return fmt.Errorf("invalid max_fill_threadgroups: %d (must be positive)", c.MaxFillThreadgroups)
	}
	return nil
}
