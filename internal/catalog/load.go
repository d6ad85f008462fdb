package catalog

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// PredicateSet maps predicate names referenced from check definitions to
// their implementations. The set is assembled in code at startup; the
// catalog file only refers to entries by name.
type PredicateSet map[string]Predicate

// DefaultPredicates returns the bundled schedule-time predicates.
func DefaultPredicates() PredicateSet {
	return PredicateSet{
		"always": func() bool { return true },
		"never":  func() bool { return false },
		"weekdays": func() bool {
			wd := time.Now().Weekday()
			return wd != time.Saturday && wd != time.Sunday
		},
	}
}

// fileCatalog is the YAML shape of the `catalog:` section of config.yaml.
// The `server:` key in the same file is ignored here (see package config).
type fileCatalog struct {
	Groups []fileGroup `yaml:"groups"`
}

type fileGroup struct {
	Name   string      `yaml:"name"`
	Checks []fileCheck `yaml:"checks"`
}

type fileCheck struct {
	Name        string            `yaml:"name"`
	Interval    int               `yaml:"interval"`
	Timeout     int               `yaml:"timeout"` // seconds
	Message     string            `yaml:"message"`
	Handlers    []string          `yaml:"handlers"`
	Command     string            `yaml:"command"`
	Tags        []string          `yaml:"tags"`
	Executor    string            `yaml:"executor"`
	Metadata    map[string]string `yaml:"metadata"`
	Contacts    []string          `yaml:"contacts"`
	Occurrences int               `yaml:"occurrences"`
	FlapLow     int               `yaml:"flap_low"`
	FlapHigh    int               `yaml:"flap_high"`
	RunOnlyIf   string            `yaml:"run_only_if"`
	SkipIf      string            `yaml:"skip_if"`
}

// Parse builds a Catalog from the YAML catalog section. Predicate references
// are resolved against preds; an unknown reference is a startup error, never
// a per-tick one.
func Parse(data []byte, preds PredicateSet) (*Catalog, error) {
	var doc struct {
		Catalog fileCatalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse yaml: %w", err)
	}
	return build(doc.Catalog, preds)
}

func build(fc fileCatalog, preds PredicateSet) (*Catalog, error) {
	groups := make([]Group, 0, len(fc.Groups))
	for _, fg := range fc.Groups {
		if fg.Name == "" {
			return nil, fmt.Errorf("catalog: group with empty name")
		}
		g := Group{Name: fg.Name, Checks: make([]Check, 0, len(fg.Checks))}
		for _, c := range fg.Checks {
			chk, err := buildCheck(fg.Name, c, preds)
			if err != nil {
				return nil, err
			}
			g.Checks = append(g.Checks, chk)
		}
		groups = append(groups, g)
	}
	return New(groups), nil
}

func buildCheck(group string, c fileCheck, preds PredicateSet) (Check, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("catalog: group %q: check with empty name", group)
	}
	if c.Interval < 1 {
		return nil, fmt.Errorf("catalog: check %s/%s: interval %d must be >= 1 minute", group, c.Name, c.Interval)
	}
	if (c.Command == "") == (c.Executor == "") {
		return nil, fmt.Errorf("catalog: check %s/%s: exactly one of command or executor is required", group, c.Name)
	}

	base := CheckBase{
		Name:        c.Name,
		Interval:    c.Interval,
		TimeoutSec:  c.Timeout,
		Message:     c.Message,
		Handlers:    c.Handlers,
		FlapLow:     c.FlapLow,
		FlapHigh:    c.FlapHigh,
		Metadata:    c.Metadata,
		Contacts:    c.Contacts,
		Occurrences: c.Occurrences,
	}
	if base.TimeoutSec <= 0 {
		base.TimeoutSec = DefaultTimeoutSec
	}

	var err error
	if base.RunOnlyIf, err = resolvePredicate(preds, c.RunOnlyIf); err != nil {
		return nil, fmt.Errorf("catalog: check %s/%s: run_only_if: %w", group, c.Name, err)
	}
	if base.SkipIf, err = resolvePredicate(preds, c.SkipIf); err != nil {
		return nil, fmt.Errorf("catalog: check %s/%s: skip_if: %w", group, c.Name, err)
	}

	if c.Command != "" {
		return &ClientCheck{CheckBase: base, Command: c.Command, Tags: c.Tags}, nil
	}
	return &ServerlessCheck{CheckBase: base, Executor: c.Executor}, nil
}

// resolvePredicate returns nil for an empty reference (predicate unused).
func resolvePredicate(preds PredicateSet, name string) (Predicate, error) {
	if name == "" {
		return nil, nil
	}
	p, ok := preds[name]
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q", name)
	}
	return p, nil
}
