package recommend

import "github.com/jarijaba/jarijaba/pkg/workflow/config"

// OptionsFromConfig reads the "recommend" section of a Config into build
// options, falling back to the built-in defaults for missing keys.
//
// YAML shape:
//
//	recommend:
//	  clarify_bound: 2
//	  default_region: 서울
//	  max_candidates: 10
//	  max_ranked: 5
func OptionsFromConfig(c config.Config) []Option {
	sec := c.Section("recommend")
	return []Option{
		WithClarifyBound(sec.Int("clarify_bound", 0)),
		WithDefaultRegion(sec.String("default_region", "")),
		WithMaxCandidates(sec.Int("max_candidates", 0)),
		WithMaxRanked(sec.Int("max_ranked", 0)),
	}
}
