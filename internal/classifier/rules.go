package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape of the rule set
type ruleFile struct {
	Labels       []string `yaml:"labels"`
	DefaultLabel string   `yaml:"default_label"`
	Rules        []struct {
		Label   string `yaml:"label"`
		Pattern string `yaml:"pattern"`
	} `yaml:"rules"`
}

// rule is one compiled (label, pattern) pair; order matters, first match wins
type rule struct {
	label string
	re    *regexp.Regexp
}

// RuleSet holds the ordered rules plus the label universe
type RuleSet struct {
	labels       []string
	defaultLabel string
	rules        []rule
}

// LoadRules reads and compiles a YAML rule file
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules compiles a rule set from YAML bytes
func ParseRules(data []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	if len(rf.Labels) == 0 {
		return nil, fmt.Errorf("rule file declares no labels")
	}
	if rf.DefaultLabel == "" {
		rf.DefaultLabel = rf.Labels[len(rf.Labels)-1]
	}

	known := make(map[string]bool, len(rf.Labels))
	for _, l := range rf.Labels {
		known[l] = true
	}
	if !known[rf.DefaultLabel] {
		return nil, fmt.Errorf("default label %q is not in the label set", rf.DefaultLabel)
	}

	rs := &RuleSet{labels: rf.Labels, defaultLabel: rf.DefaultLabel}
	for i, r := range rf.Rules {
		if !known[r.Label] {
			return nil, fmt.Errorf("rule %d: label %q is not in the label set", i, r.Label)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Label, err)
		}
		rs.rules = append(rs.rules, rule{label: r.Label, re: re})
	}
	return rs, nil
}

// Match returns the first matching rule's label, or "" when none fires
func (rs *RuleSet) Match(normalized string) string {
	for _, r := range rs.rules {
		if r.re.MatchString(normalized) {
			return r.label
		}
	}
	return ""
}

// Labels returns the label universe
func (rs *RuleSet) Labels() []string { return rs.labels }

// DefaultLabel is assigned when neither rules nor ML are confident
func (rs *RuleSet) DefaultLabel() string { return rs.defaultLabel }

// syntheticDistribution puts high mass on the chosen label and spreads the
// remainder uniformly over the rest
func (rs *RuleSet) syntheticDistribution(label string, confidence float64) map[string]float64 {
	dist := make(map[string]float64, len(rs.labels))
	rest := 0.0
	if len(rs.labels) > 1 {
		rest = (1 - confidence) / float64(len(rs.labels)-1)
	}
	for _, l := range rs.labels {
		if l == label {
			dist[l] = confidence
		} else {
			dist[l] = rest
		}
	}
	return dist
}
