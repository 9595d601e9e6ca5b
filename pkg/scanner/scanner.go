package scanner

import (
	"encoding/hex"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/analysiserr"
	"github.com/marmos91/triage/pkg/model"
)

// compiledRule is a rule with its patterns compiled.
type compiledRule struct {
	rule     Rule
	patterns map[string]*regexp.Regexp
	matchAll bool
}

// engine is the process-wide compiled-ruleset cache: compiled once,
// lazily, at first use, reused for the session.
type engine struct {
	mu       sync.Mutex
	compiled []compiledRule
	loaded   bool
	loadErr  error
	path     string
}

var defaultEngine = &engine{}

// SetRulesPath points the engine at an external YAML ruleset. Must be
// called before the first scan; later calls force a recompile.
func SetRulesPath(path string) {
	defaultEngine.mu.Lock()
	defer defaultEngine.mu.Unlock()
	defaultEngine.path = path
	defaultEngine.loaded = false
	defaultEngine.compiled = nil
}

// ensureLoaded compiles the ruleset on first use.
func (e *engine) ensureLoaded() ([]compiledRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.compiled, e.loadErr
	}
	e.loaded = true

	source := defaultRulesYAML
	if e.path != "" {
		data, err := os.ReadFile(e.path)
		if err != nil {
			e.loadErr = analysiserr.Wrap(analysiserr.InputError, "read ruleset", err)
			return nil, e.loadErr
		}
		source = data
	}

	rs, err := loadRuleset(source)
	if err != nil {
		e.loadErr = err
		return nil, err
	}

	for _, rule := range rs.Rules {
		cr := compiledRule{
			rule:     rule,
			patterns: make(map[string]*regexp.Regexp, len(rule.Patterns)),
			matchAll: strings.EqualFold(rule.Condition, "all"),
		}
		for id, pattern := range rule.Patterns {
			re, err := compilePattern(pattern)
			if err != nil {
				e.loadErr = analysiserr.Wrap(analysiserr.InputError,
					"compile pattern "+rule.Name+"."+id, err)
				return nil, e.loadErr
			}
			cr.patterns[id] = re
		}
		e.compiled = append(e.compiled, cr)
	}

	logger.Debug("pattern ruleset compiled", logger.Size(uint64(len(e.compiled))))
	return e.compiled, nil
}

// compilePattern compiles one pattern; the hex: prefix denotes a
// literal byte sequence.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if raw, ok := strings.CutPrefix(pattern, "hex:"); ok {
		bytes, err := hex.DecodeString(raw)
		if err != nil {
			return nil, err
		}
		return regexp.Compile(regexp.QuoteMeta(string(bytes)))
	}
	return regexp.Compile(pattern)
}

// Scan runs the compiled ruleset over data. The returned ScanResult
// carries an error instead of failing the call so the enclosing
// pipeline always receives a result.
func Scan(data []byte) model.ScanResult {
	start := time.Now()
	rules, err := defaultEngine.ensureLoaded()
	if err != nil {
		return model.ScanResult{Err: err, ScanTimeMs: msSince(start)}
	}

	var matches []model.RuleMatch
	for _, cr := range rules {
		var hits []model.StringMatchHit
		matched := 0
		for id, re := range cr.patterns {
			loc := re.FindIndex(data)
			if loc == nil {
				continue
			}
			matched++
			hits = append(hits, model.StringMatchHit{
				Identifier: id,
				Offset:     int64(loc[0]),
				Length:     loc[1] - loc[0],
				Data:       append([]byte(nil), data[loc[0]:loc[1]]...),
			})
		}

		ok := matched > 0
		if cr.matchAll {
			ok = matched == len(cr.patterns)
		}
		if !ok {
			continue
		}

		metadata := make(map[string]string, len(cr.rule.Metadata)+1)
		for k, v := range cr.rule.Metadata {
			metadata[k] = v
		}
		if cr.rule.Severity != "" {
			metadata["severity"] = cr.rule.Severity
		}

		matches = append(matches, model.RuleMatch{
			RuleName:  cr.rule.Name,
			Namespace: cr.rule.Namespace,
			Tags:      cr.rule.Tags,
			Metadata:  metadata,
			Strings:   hits,
		})
	}

	return model.ScanResult{
		Matches:     matches,
		ScanTimeMs:  msSince(start),
		RulesLoaded: len(rules),
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
