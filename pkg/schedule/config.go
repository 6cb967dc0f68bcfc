package schedule

import (
	"github.com/jarijaba/jarijaba/pkg/workflow/config"
)

// OptionsFromConfig reads the "schedule" section of a Config into build
// options, falling back to the built-in defaults for missing keys.
//
// YAML shape:
//
//	schedule:
//	  interval_minutes: 30
//	  default_duration: 1h
func OptionsFromConfig(c config.Config) []Option {
	sec := c.Section("schedule")
	return []Option{
		WithInterval(sec.Int("interval_minutes", 0)),
		WithDefaultDuration(sec.Duration("default_duration", 0)),
	}
}
