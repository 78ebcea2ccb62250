package collector

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// SeedStrategy produces the candidate URLs fetched for a lane.
type SeedStrategy interface {
	Seeds(origin string, lane model.Lane) []string
}

// StaticSeeds appends well-known path suffixes to the vendor origin.
type StaticSeeds struct {
	Paths map[model.Lane][]string
}

// DefaultSeedPaths returns the built-in path table.
func DefaultSeedPaths() map[model.Lane][]string {
	return map[model.Lane][]string{
		model.LanePricing:      {"/pricing", "/plans"},
		model.LaneFeatures:     {"/features", "/product"},
		model.LaneIntegrations: {"/integrations", "/apps", "/marketplace"},
		model.LaneTrust:        {"/security", "/trust", "/compliance"},
		model.LaneChangelog:    {"/changelog", "/release-notes", "/updates"},
		model.LaneOverview:     {"/", "/about"},
	}
}

// NewStaticSeeds returns the default seed table.
func NewStaticSeeds() *StaticSeeds {
	return &StaticSeeds{Paths: DefaultSeedPaths()}
}

// Seeds implements SeedStrategy.
func (s *StaticSeeds) Seeds(origin string, lane model.Lane) []string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return nil
	}
	paths := s.Paths[lane]
	out := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		u := origin + p
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// defaultMinItems is the fewest items an extraction needs to count as
// sufficient.
var defaultMinItems = map[model.Lane]int{
	model.LanePricing:      1,
	model.LaneFeatures:     3,
	model.LaneIntegrations: 1,
	model.LaneTrust:        1,
	model.LaneChangelog:    1,
	model.LaneOverview:     1,
}

// LaneRule overrides the seeds and minimum item count of one lane.
type LaneRule struct {
	Paths    []string `yaml:"paths"`
	MinItems int      `yaml:"min_items"`
}

// LaneRules is the lanes file format:
//
//	lanes:
//	  pricing:
//	    paths: [/pricing, /plans, /buy]
//	    min_items: 2
type LaneRules struct {
	Lanes map[string]LaneRule `yaml:"lanes"`
}

// LoadLaneRules reads lane overrides from a YAML file.
func LoadLaneRules(path string) (*LaneRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "collector: read lanes file %s", path)
	}
	return ParseLaneRules(data)
}

// ParseLaneRules decodes lane overrides and rejects unknown lanes.
func ParseLaneRules(data []byte) (*LaneRules, error) {
	var rules LaneRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, eris.Wrap(err, "collector: parse lanes file")
	}
	for name, rule := range rules.Lanes {
		if _, ok := model.ParseLane(name); !ok {
			return nil, eris.Errorf("collector: unknown lane %q in lanes file", name)
		}
		if rule.MinItems < 0 {
			return nil, eris.Errorf("collector: lane %q min_items must be >= 0", name)
		}
	}
	return &rules, nil
}

// SeedPaths merges the rule paths over the defaults.
func (r *LaneRules) SeedPaths() map[model.Lane][]string {
	paths := DefaultSeedPaths()
	if r == nil {
		return paths
	}
	for name, rule := range r.Lanes {
		lane, _ := model.ParseLane(name)
		if len(rule.Paths) > 0 {
			paths[lane] = rule.Paths
		}
	}
	return paths
}

// MinItems merges the rule minimums over the defaults.
func (r *LaneRules) MinItems() map[model.Lane]int {
	out := make(map[model.Lane]int, len(defaultMinItems))
	for l, n := range defaultMinItems {
		out[l] = n
	}
	if r == nil {
		return out
	}
	for name, rule := range r.Lanes {
		lane, _ := model.ParseLane(name)
		if rule.MinItems > 0 {
			out[lane] = rule.MinItems
		}
	}
	return out
}
