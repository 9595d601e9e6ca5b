// Package scanner wraps a compiled-pattern engine: a YAML ruleset is
// compiled once, lazily, at first use, and the compiled rules are cached
// process-wide for the session.
package scanner

import (
	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/triage/pkg/analysiserr"
)

// Rule is one declarative detection rule before compilation. Patterns
// are regular expressions matched over the raw bytes; hex patterns use
// the `hex:` prefix and match literal byte sequences.
type Rule struct {
	Name      string            `yaml:"name"`
	Namespace string            `yaml:"namespace"`
	Severity  string            `yaml:"severity"`
	Tags      []string          `yaml:"tags"`
	Metadata  map[string]string `yaml:"metadata"`
	Patterns  map[string]string `yaml:"patterns"`

	// Condition: "any" (default) or "all" of the patterns must match.
	Condition string `yaml:"condition"`
}

// Ruleset is the YAML document shape.
type Ruleset struct {
	Rules []Rule `yaml:"rules"`
}

//go:embed rules/default.yaml
var defaultRulesYAML []byte

// loadRuleset parses a YAML ruleset document.
func loadRuleset(data []byte) (Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return rs, analysiserr.Wrap(analysiserr.InputError, "parse ruleset", err)
	}
	if len(rs.Rules) == 0 {
		return rs, analysiserr.New(analysiserr.InputError, "ruleset contains no rules")
	}
	return rs, nil
}
