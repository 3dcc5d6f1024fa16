package enrich

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/securewatch/ingest/internal/logger"
	"github.com/securewatch/ingest/pkg/enrich/intelcache"
	"github.com/securewatch/ingest/pkg/event"
)

// Config controls the enrichment engine.
type Config struct {
	// Enabled short-circuits Enrich entirely when false.
	Enabled bool

	// CacheTTL bounds how long provider verdicts stay cached.
	CacheTTL time.Duration

	// LookupTimeout caps each provider call.
	LookupTimeout time.Duration
}

// Engine applies enrichment rules to normalized events. It is safe for
// concurrent use; rule and table installation may happen at runtime.
type Engine struct {
	cfg Config

	mu     sync.RWMutex
	rules  []Rule
	tables map[string]*LookupTable

	geo   GeoIPProvider
	intel ThreatIntelProvider
	cache *providerCache
}

// NewEngine creates an enrichment engine with mock providers and no cache.
func NewEngine(cfg Config) *Engine {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		tables: make(map[string]*LookupTable),
		geo:    MockGeoIP{},
		intel:  MockThreatIntel{},
	}
}

// SetGeoIPProvider replaces the geolocation backend.
func (e *Engine) SetGeoIPProvider(p GeoIPProvider) {
	e.mu.Lock()
	e.geo = p
	e.mu.Unlock()
}

// SetThreatIntelProvider replaces the threat-intelligence backend.
func (e *Engine) SetThreatIntelProvider(p ThreatIntelProvider) {
	e.mu.Lock()
	e.intel = p
	e.mu.Unlock()
}

// SetCache attaches a TTL cache for provider verdicts.
func (e *Engine) SetCache(c *intelcache.Cache) {
	e.mu.Lock()
	e.cache = &providerCache{cache: c, ttl: e.cfg.CacheTTL}
	e.mu.Unlock()
}

// AddRule compiles and installs a rule, keeping the set ordered by
// descending priority.
func (e *Engine) AddRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("enrichment rule has no id")
	}
	if err := r.compile(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == r.ID {
			e.rules[i] = r
			e.sortLocked()
			return nil
		}
	}
	e.rules = append(e.rules, r)
	e.sortLocked()
	return nil
}

// RemoveRule uninstalls a rule by id.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return
		}
	}
}

// Rules returns the installed rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// AddLookupTable installs or replaces a named lookup table.
func (e *Engine) AddLookupTable(t LookupTable) error {
	if t.Name == "" {
		return fmt.Errorf("lookup table has no name")
	}
	e.mu.Lock()
	e.tables[t.Name] = &t
	e.mu.Unlock()
	return nil
}

func (e *Engine) sortLocked() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority > e.rules[j].Priority
	})
}

// Enrich evaluates every enabled rule against the event, highest priority
// first, and stamps the enrichment trailer. Individual rule failures are
// logged and swallowed; only context cancellation propagates.
func (e *Engine) Enrich(ctx context.Context, ev event.NormalizedEvent) error {
	if !e.cfg.Enabled || ev == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.RLock()
	rules := append([]Rule(nil), e.rules...)
	e.mu.RUnlock()

	var applied []string
	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		if !e.matches(r, ev) {
			continue
		}
		for _, a := range r.Actions {
			if err := e.apply(ctx, a, ev); err != nil {
				logger.Warn("enrichment action failed",
					"rule_id", r.ID, "action", string(a.Type), "error", err)
			}
		}
		applied = append(applied, r.ID)
	}

	ev.Set(event.FieldEnrichmentTimestamp, event.Time(time.Now().UTC()))
	ev.Set(event.FieldEnrichmentRules, event.Strings(applied...))
	return ctx.Err()
}

// matches reports whether all rule conditions hold.
func (e *Engine) matches(r *Rule, ev event.NormalizedEvent) bool {
	for i := range r.Conditions {
		if !evalCondition(&r.Conditions[i], ev) {
			return false
		}
	}
	return true
}

func evalCondition(c *Condition, ev event.NormalizedEvent) bool {
	v := ev.Get(c.Field)

	switch c.Operator {
	case OpExists:
		return ev.Has(c.Field)

	case OpEquals:
		if c.CaseSensitive {
			return v.Text() == c.Value
		}
		return strings.EqualFold(v.Text(), c.Value)

	case OpContains:
		if c.CaseSensitive {
			return v.Contains(c.Value)
		}
		return strings.Contains(strings.ToLower(v.Text()), strings.ToLower(c.Value))

	case OpMatches:
		return c.compiled != nil && c.compiled.MatchString(v.Text())

	case OpIn:
		for _, candidate := range c.Values {
			if c.CaseSensitive && v.Text() == candidate {
				return true
			}
			if !c.CaseSensitive && strings.EqualFold(v.Text(), candidate) {
				return true
			}
		}
		return false

	case OpRange:
		if len(c.Values) != 2 {
			return false
		}
		lo, errLo := strconv.ParseFloat(c.Values[0], 64)
		hi, errHi := strconv.ParseFloat(c.Values[1], 64)
		if errLo != nil || errHi != nil {
			return false
		}
		n := v.Num()
		return n >= lo && n <= hi

	default:
		return false
	}
}

// apply executes one action against the event.
func (e *Engine) apply(ctx context.Context, a Action, ev event.NormalizedEvent) error {
	switch a.Type {
	case ActionAddField:
		if !ev.Has(a.Field) {
			ev.SetString(a.Field, a.Value)
		}
		return nil

	case ActionSetField:
		ev.SetString(a.Field, a.Value)
		return nil

	case ActionAddTag:
		ev.AppendUnique("tags", a.Value)
		return nil

	case ActionLookup:
		return e.applyLookup(a, ev)

	case ActionGeoIP:
		return e.applyGeoIP(ctx, a, ev)

	case ActionThreatIntel:
		return e.applyThreatIntel(ctx, a, ev)

	case ActionCalculate:
		return e.applyCalculate(a, ev)

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (e *Engine) applyLookup(a Action, ev event.NormalizedEvent) error {
	e.mu.RLock()
	table, ok := e.tables[a.Source]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lookup table %q not installed", a.Source)
	}

	keyField := a.Field
	if keyField == "" {
		keyField = table.KeyField
	}
	key := ev.GetString(keyField)
	if key == "" {
		return nil
	}
	row, found := table.Data[key]
	if !found {
		return nil
	}
	for col, val := range row {
		ev.SetString(table.Name+"."+col, val)
	}
	return nil
}

func (e *Engine) applyGeoIP(ctx context.Context, a Action, ev event.NormalizedEvent) error {
	field := a.Field
	if field == "" {
		field = "source.ip"
	}
	ip := ev.GetString(field)
	if ip == "" {
		return nil
	}

	e.mu.RLock()
	provider, cache := e.geo, e.cache
	e.mu.RUnlock()

	var info GeoInfo
	cacheKey := "geo:" + ip
	if !cache.get(cacheKey, &info) {
		lctx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
		defer cancel()

		result, err := provider.LookupIP(lctx, ip)
		if err != nil {
			return fmt.Errorf("geoip lookup %s: %w", ip, err)
		}
		if result == nil {
			return nil
		}
		info = *result
		cache.put(cacheKey, info)
	}

	prefix := geoPrefix(field)
	ev.SetString(prefix+".geo.country_iso_code", info.CountryISO)
	ev.SetString(prefix+".geo.country_name", info.CountryName)
	if info.City != "" {
		ev.SetString(prefix+".geo.city_name", info.City)
	}
	return nil
}

// geoPrefix derives "source" from "source.ip" so results nest beside the
// address they describe.
func geoPrefix(field string) string {
	if i := strings.LastIndex(field, "."); i > 0 {
		return field[:i]
	}
	return field
}

func (e *Engine) applyThreatIntel(ctx context.Context, a Action, ev event.NormalizedEvent) error {
	field := a.Field
	if field == "" {
		field = "source.ip"
	}
	indicator := ev.GetString(field)
	if indicator == "" {
		return nil
	}

	e.mu.RLock()
	provider, cache := e.intel, e.cache
	e.mu.RUnlock()

	var info ThreatInfo
	cacheKey := "intel:" + indicator
	if !cache.get(cacheKey, &info) {
		lctx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
		defer cancel()

		result, err := provider.LookupIndicator(lctx, indicator)
		if err != nil {
			return fmt.Errorf("threat intel lookup %s: %w", indicator, err)
		}
		if result == nil {
			return nil
		}
		info = *result
		cache.put(cacheKey, info)
	}

	if !info.Matched {
		return nil
	}
	ev.SetString("threat.indicator.value", info.Indicator)
	ev.SetString("threat.indicator.provider", info.Source)
	ev.Set("threat.indicator.score", event.Number(info.Score))
	if len(info.Categories) > 0 {
		ev.Set("threat.indicator.categories", event.Strings(info.Categories...))
	}
	ev.AppendUnique("tags", "threat-intel-match")
	return nil
}

func (e *Engine) applyCalculate(a Action, ev event.NormalizedEvent) error {
	switch a.Formula {
	case "risk_score":
		ev.Set(FieldRiskScore, event.Number(calculateRiskScore(ev)))
		return nil
	default:
		return fmt.Errorf("unknown formula %q", a.Formula)
	}
}

// DefaultRules is the standard rule set the pipeline installs at startup:
// geolocate and check external source addresses, then compute the risk
// score for every event.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "geoip-source",
			Name:     "Geolocate source address",
			Priority: 90,
			Enabled:  true,
			Conditions: []Condition{
				{Field: "source.ip", Operator: OpExists},
			},
			Actions: []Action{
				{Type: ActionGeoIP, Field: "source.ip"},
			},
		},
		{
			ID:       "threat-intel-source",
			Name:     "Threat intel on source address",
			Priority: 80,
			Enabled:  true,
			Conditions: []Condition{
				{Field: "source.ip", Operator: OpExists},
			},
			Actions: []Action{
				{Type: ActionThreatIntel, Field: "source.ip"},
			},
		},
		{
			ID:       "risk-score",
			Name:     "Risk score",
			Priority: 10,
			Enabled:  true,
			Actions: []Action{
				{Type: ActionCalculate, Formula: "risk_score"},
			},
		},
	}
}
