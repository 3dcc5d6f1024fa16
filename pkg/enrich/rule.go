// Package enrich implements the rule-driven enrichment engine: condition
// matching, field mutation, lookup tables, geolocation and threat-intel
// providers, and the risk score calculation. Enrichment never fails the
// pipeline; rule errors are logged and swallowed.
package enrich

import (
	"fmt"
	"regexp"
)

// Operator is the closed condition-operator vocabulary.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
	OpExists   Operator = "exists"
	OpIn       Operator = "in"
	OpRange    Operator = "range"
)

// ActionType is the closed action vocabulary.
type ActionType string

const (
	ActionAddField    ActionType = "add_field"
	ActionSetField    ActionType = "set_field"
	ActionAddTag      ActionType = "add_tag"
	ActionLookup      ActionType = "lookup"
	ActionGeoIP       ActionType = "geoip"
	ActionThreatIntel ActionType = "threat_intel"
	ActionCalculate   ActionType = "calculate"
)

// Condition matches one event field. For OpIn, Values holds the accepted
// set; for OpRange, Values holds [min, max] as numbers.
type Condition struct {
	Field         string   `mapstructure:"field" yaml:"field"`
	Operator      Operator `mapstructure:"operator" yaml:"operator"`
	Value         string   `mapstructure:"value" yaml:"value"`
	Values        []string `mapstructure:"values" yaml:"values"`
	CaseSensitive bool     `mapstructure:"caseSensitive" yaml:"caseSensitive"`

	compiled *regexp.Regexp
}

// Action mutates the event. Field names the target (or, for lookup and the
// providers, the field holding the lookup key); Source names the lookup
// table or provider; Formula names the calculation.
type Action struct {
	Type    ActionType `mapstructure:"type" yaml:"type"`
	Field   string     `mapstructure:"field" yaml:"field"`
	Value   string     `mapstructure:"value" yaml:"value"`
	Source  string     `mapstructure:"source" yaml:"source"`
	Formula string     `mapstructure:"formula" yaml:"formula"`
}

// Rule is one enrichment rule. All conditions must match for the actions to
// run. Rules evaluate highest priority first.
type Rule struct {
	ID         string      `mapstructure:"id" yaml:"id"`
	Name       string      `mapstructure:"name" yaml:"name"`
	Priority   int         `mapstructure:"priority" yaml:"priority"`
	Enabled    bool        `mapstructure:"enabled" yaml:"enabled"`
	Conditions []Condition `mapstructure:"conditions" yaml:"conditions"`
	Actions    []Action    `mapstructure:"actions" yaml:"actions"`
}

// compile pre-builds regex conditions so malformed patterns surface at rule
// installation instead of per event.
func (r *Rule) compile() error {
	for i := range r.Conditions {
		c := &r.Conditions[i]
		if c.Operator != OpMatches {
			continue
		}
		pattern := c.Value
		if !c.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("rule %s condition %d: %w", r.ID, i, err)
		}
		c.compiled = compiled
	}
	return nil
}

// LookupTable is a named in-memory table for lookup actions. Data maps key
// values to column→value rows.
type LookupTable struct {
	Name         string                       `mapstructure:"name" yaml:"name"`
	KeyField     string                       `mapstructure:"keyField" yaml:"keyField"`
	Data         map[string]map[string]string `mapstructure:"data" yaml:"data"`
	CacheTimeout int                          `mapstructure:"cacheTimeout" yaml:"cacheTimeout"`
}
