package pii

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/logger"
)

// PatternRule binds one regular expression to a fixed category label.
type PatternRule struct {
	Name     string
	Category string
	Pattern  *regexp.Regexp
}

// DefaultRules returns the fallback rule set in application order. The
// order matters: a later rule never claims text already claimed by an
// earlier one.
func DefaultRules() []PatternRule {
	return []PatternRule{
		{
			Name:     "email",
			Category: "EMAIL",
			Pattern:  regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		},
		{
			Name:     "phone",
			Category: "PHONE",
			Pattern:  regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`),
		},
		{
			Name:     "ssn",
			Category: "SSN",
			Pattern:  regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		},
		{
			Name:     "credit_card",
			Category: "CREDIT_CARD",
			Pattern:  regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`),
		},
		{
			Name:     "ip_address",
			Category: "IP_ADDRESS",
			Pattern:  regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
		},
		{
			Name:     "url",
			Category: "URL",
			Pattern:  regexp.MustCompile(`https?://[^\s"'<>]+`),
		},
		{
			Name:     "person",
			Category: "PERSON",
			// Heuristic: two consecutive capitalized words.
			Pattern: regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`),
		},
	}
}

// PatternDetector is the regex fallback detector. It is always
// available and needs no external service.
type PatternDetector struct {
	rules []PatternRule

	mu      sync.RWMutex
	enabled map[string]bool

	logger *logger.Logger
}

// NewPatternDetector builds the fallback detector with the given rule
// names enabled ("all" enables every rule).
func NewPatternDetector(enabledRules []string, log *logger.Logger) (*PatternDetector, error) {
	d := &PatternDetector{
		rules:   DefaultRules(),
		enabled: make(map[string]bool),
		logger:  log,
	}
	if err := d.Configure(enabledRules); err != nil {
		return nil, err
	}
	return d, nil
}

// Name identifies the detector in logs and events.
func (d *PatternDetector) Name() string { return "patterns" }

// Configure replaces the enabled rule set. Called at startup and on
// config hot reload.
func (d *PatternDetector) Configure(enabledRules []string) error {
	next := make(map[string]bool, len(d.rules))
	for _, rule := range d.rules {
		next[rule.Name] = false
	}

	for _, name := range enabledRules {
		if name == "all" {
			for _, rule := range d.rules {
				next[rule.Name] = true
			}
			continue
		}
		if _, ok := next[name]; !ok {
			return fmt.Errorf("unknown detection rule: %s", name)
		}
		next[name] = true
	}

	d.mu.Lock()
	d.enabled = next
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Pattern rules configured",
			zap.Int("total_rules", len(d.rules)),
			zap.Int("enabled_rules", d.countEnabled()),
		)
	}
	return nil
}

// EnabledRules returns the names of currently enabled rules, sorted.
func (d *PatternDetector) EnabledRules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var names []string
	for name, on := range d.enabled {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (d *PatternDetector) countEnabled() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, on := range d.enabled {
		if on {
			n++
		}
	}
	return n
}

// Detect applies each enabled rule in order against the original text.
// A match that overlaps a region already claimed by an earlier rule is
// skipped, so the returned spans never overlap and all offsets refer
// to the input text.
func (d *PatternDetector) Detect(_ context.Context, text string) ([]Span, error) {
	d.mu.RLock()
	enabled := d.enabled
	d.mu.RUnlock()

	var spans []Span
	var claimed []Span

	for _, rule := range d.rules {
		if !enabled[rule.Name] {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			candidate := Span{
				Start:    loc[0],
				End:      loc[1],
				Category: rule.Category,
				Text:     text[loc[0]:loc[1]],
			}
			if overlapsAny(candidate, claimed) {
				continue
			}
			claimed = append(claimed, candidate)
			spans = append(spans, candidate)
		}
	}

	return spans, nil
}

func overlapsAny(s Span, claimed []Span) bool {
	for _, c := range claimed {
		if s.Start < c.End && c.Start < s.End {
			return true
		}
	}
	return false
}
