package enrich

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/securewatch/ingest/pkg/enrich/intelcache"
	"github.com/securewatch/ingest/pkg/event"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(Config{Enabled: true, CacheTTL: time.Minute, LookupTimeout: time.Second})
}

// markerRule builds a single-condition rule that stamps marker=yes when the
// condition matches.
func markerRule(id string, c Condition) Rule {
	return Rule{
		ID:         id,
		Priority:   50,
		Enabled:    true,
		Conditions: []Condition{c},
		Actions:    []Action{{Type: ActionSetField, Field: "marker", Value: "yes"}},
	}
}

func TestEngine_DisabledIsNoop(t *testing.T) {
	e := NewEngine(Config{Enabled: false})
	if err := e.AddRule(markerRule("r", Condition{Field: "x", Operator: OpExists})); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	ev := event.NewNormalizedEvent()
	ev.SetString("x", "present")
	if err := e.Enrich(context.Background(), ev); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if ev.Has("marker") || ev.Has(event.FieldEnrichmentTimestamp) {
		t.Error("disabled engine mutated the event")
	}
}

func TestEngine_AddRuleValidation(t *testing.T) {
	e := newTestEngine(t)
	if err := e.AddRule(Rule{}); err == nil {
		t.Error("rule without id accepted")
	}
	bad := markerRule("bad-regex", Condition{Field: "m", Operator: OpMatches, Value: "(["})
	if err := e.AddRule(bad); err == nil {
		t.Error("malformed regex accepted")
	}
	if len(e.Rules()) != 0 {
		t.Errorf("rules installed = %d, want 0", len(e.Rules()))
	}
}

func TestEngine_RulesOrderedByPriority(t *testing.T) {
	e := newTestEngine(t)
	for _, r := range []Rule{
		{ID: "low", Priority: 10, Enabled: true},
		{ID: "high", Priority: 90, Enabled: true},
		{ID: "mid", Priority: 50, Enabled: true},
	} {
		if err := e.AddRule(r); err != nil {
			t.Fatalf("AddRule(%s): %v", r.ID, err)
		}
	}

	got := e.Rules()
	wantOrder := []string{"high", "mid", "low"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("rules[%d] = %s, want %s", i, got[i].ID, id)
		}
	}

	// Re-adding an existing id replaces in place.
	if err := e.AddRule(Rule{ID: "mid", Priority: 95, Enabled: true}); err != nil {
		t.Fatalf("AddRule replace: %v", err)
	}
	got = e.Rules()
	if len(got) != 3 || got[0].ID != "mid" {
		t.Errorf("after replace, first rule = %s of %d, want mid of 3", got[0].ID, len(got))
	}

	e.RemoveRule("mid")
	if len(e.Rules()) != 2 {
		t.Errorf("rules after remove = %d, want 2", len(e.Rules()))
	}
}

func TestEngine_Conditions(t *testing.T) {
	tests := []struct {
		name  string
		cond  Condition
		field string
		value string
		want  bool
	}{
		{"equals fold", Condition{Field: "f", Operator: OpEquals, Value: "Alice"}, "f", "alice", true},
		{"equals strict miss", Condition{Field: "f", Operator: OpEquals, Value: "Alice", CaseSensitive: true}, "f", "alice", false},
		{"contains fold", Condition{Field: "f", Operator: OpContains, Value: "DENIED"}, "f", "access denied today", true},
		{"contains miss", Condition{Field: "f", Operator: OpContains, Value: "granted"}, "f", "access denied", false},
		{"matches fold", Condition{Field: "f", Operator: OpMatches, Value: "^auth.*failure$"}, "f", "AUTH pam failure", true},
		{"matches miss", Condition{Field: "f", Operator: OpMatches, Value: "^xyz$"}, "f", "abc", false},
		{"exists", Condition{Field: "f", Operator: OpExists}, "f", "anything", true},
		{"exists missing field", Condition{Field: "other", Operator: OpExists}, "f", "anything", false},
		{"in fold", Condition{Field: "f", Operator: OpIn, Values: []string{"ssh", "RDP"}}, "f", "rdp", true},
		{"in miss", Condition{Field: "f", Operator: OpIn, Values: []string{"ssh", "rdp"}}, "f", "vnc", false},
		{"range inside", Condition{Field: "f", Operator: OpRange, Values: []string{"10", "99"}}, "f", "50", true},
		{"range outside", Condition{Field: "f", Operator: OpRange, Values: []string{"10", "99"}}, "f", "150", false},
		{"range malformed", Condition{Field: "f", Operator: OpRange, Values: []string{"10"}}, "f", "50", false},
		{"unknown operator", Condition{Field: "f", Operator: "fuzzy"}, "f", "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			if err := e.AddRule(markerRule("r", tt.cond)); err != nil {
				t.Fatalf("AddRule: %v", err)
			}
			ev := event.NewNormalizedEvent()
			ev.SetString(tt.field, tt.value)
			if err := e.Enrich(context.Background(), ev); err != nil {
				t.Fatalf("Enrich: %v", err)
			}
			if got := ev.Has("marker"); got != tt.want {
				t.Errorf("matched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngine_FieldAndTagActions(t *testing.T) {
	e := newTestEngine(t)
	err := e.AddRule(Rule{
		ID:      "mutate",
		Enabled: true,
		Actions: []Action{
			{Type: ActionAddField, Field: "env", Value: "prod"},
			{Type: ActionAddField, Field: "existing", Value: "overwritten"},
			{Type: ActionSetField, Field: "stage", Value: "ingest"},
			{Type: ActionAddTag, Value: "reviewed"},
			{Type: ActionAddTag, Value: "reviewed"},
		},
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	ev := event.NewNormalizedEvent()
	ev.SetString("existing", "original")
	if err := e.Enrich(context.Background(), ev); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	if ev.GetString("env") != "prod" {
		t.Errorf("env = %q", ev.GetString("env"))
	}
	if ev.GetString("existing") != "original" {
		t.Errorf("add_field overwrote existing value: %q", ev.GetString("existing"))
	}
	if ev.GetString("stage") != "ingest" {
		t.Errorf("stage = %q", ev.GetString("stage"))
	}
	tags := ev.Get("tags").ArrayVal()
	if len(tags) != 1 || tags[0].Str() != "reviewed" {
		t.Errorf("tags = %v, want [reviewed]", tags)
	}
}

func TestEngine_DisabledRuleSkipped(t *testing.T) {
	e := newTestEngine(t)
	r := markerRule("off", Condition{Field: "f", Operator: OpExists})
	r.Enabled = false
	if err := e.AddRule(r); err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	ev := event.NewNormalizedEvent()
	ev.SetString("f", "x")
	if err := e.Enrich(context.Background(), ev); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if ev.Has("marker") {
		t.Error("disabled rule ran")
	}
	if ev.Get(event.FieldEnrichmentRules).Contains("off") {
		t.Error("disabled rule recorded as applied")
	}
}

func TestEngine_Lookup(t *testing.T) {
	e := newTestEngine(t)
	err := e.AddLookupTable(LookupTable{
		Name:     "assets",
		KeyField: "host.name",
		Data: map[string]map[string]string{
			"web01": {"owner": "platform", "tier": "frontend"},
		},
	})
	if err != nil {
		t.Fatalf("AddLookupTable: %v", err)
	}
	err = e.AddRule(Rule{
		ID:      "asset-lookup",
		Enabled: true,
		Actions: []Action{{Type: ActionLookup, Source: "assets"}},
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	ev := event.NewNormalizedEvent()
	ev.SetString("host.name", "web01")
	if err := e.Enrich(context.Background(), ev); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if ev.GetString("assets.owner") != "platform" || ev.GetString("assets.tier") != "frontend" {
		t.Errorf("lookup columns = %q / %q", ev.GetString("assets.owner"), ev.GetString("assets.tier"))
	}

	// Unknown key leaves the event untouched.
	miss := event.NewNormalizedEvent()
	miss.SetString("host.name", "db99")
	if err := e.Enrich(context.Background(), miss); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if miss.Has("assets.owner") {
		t.Error("lookup populated fields for an unknown key")
	}
}

func TestEngine_ActionErrorsDoNotFailEnrich(t *testing.T) {
	e := newTestEngine(t)
	err := e.AddRule(Rule{
		ID:      "broken",
		Enabled: true,
		Actions: []Action{{Type: ActionLookup, Source: "no-such-table"}},
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	ev := event.NewNormalizedEvent()
	ev.SetString("host.name", "web01")
	if err := e.Enrich(context.Background(), ev); err != nil {
		t.Errorf("Enrich returned %v, want nil despite action failure", err)
	}
	if !ev.Has(event.FieldEnrichmentTimestamp) {
		t.Error("enrichment trailer missing")
	}
}

func TestEngine_GeoIPAction(t *testing.T) {
	e := newTestEngine(t)
	err := e.AddRule(Rule{
		ID:      "geo",
		Enabled: true,
		Actions: []Action{{Type: ActionGeoIP, Field: "source.ip"}},
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	ev := event.NewNormalizedEvent()
	ev.SetString("source.ip", "198.51.100.7")
	if err := e.Enrich(context.Background(), ev); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if ev.GetString("source.geo.country_iso_code") != "ZZ" {
		t.Errorf("country_iso_code = %q, want ZZ", ev.GetString("source.geo.country_iso_code"))
	}

	// Private addresses resolve to nothing.
	private := event.NewNormalizedEvent()
	private.SetString("source.ip", "10.0.0.5")
	if err := e.Enrich(context.Background(), private); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if private.Has("source.geo.country_iso_code") {
		t.Error("geo fields set for a private address")
	}
}

func TestEngine_ThreatIntelAction(t *testing.T) {
	e := newTestEngine(t)
	err := e.AddRule(Rule{
		ID:      "intel",
		Enabled: true,
		Actions: []Action{{Type: ActionThreatIntel, Field: "source.ip"}},
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	hit := event.NewNormalizedEvent()
	hit.SetString("source.ip", "203.0.113.5")
	if err := e.Enrich(context.Background(), hit); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if hit.GetString("threat.indicator.value") != "203.0.113.5" {
		t.Errorf("indicator = %q", hit.GetString("threat.indicator.value"))
	}
	if hit.Get("threat.indicator.score").Num() != 80 {
		t.Errorf("score = %v, want 80", hit.Get("threat.indicator.score"))
	}
	if !hit.Get("tags").Contains("threat-intel-match") {
		t.Error("threat-intel-match tag missing")
	}

	clean := event.NewNormalizedEvent()
	clean.SetString("source.ip", "198.51.100.7")
	if err := e.Enrich(context.Background(), clean); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if clean.Has("threat.indicator.value") {
		t.Error("unmatched indicator stamped threat fields")
	}
}

type countingGeo struct {
	calls atomic.Int64
}

func (c *countingGeo) LookupIP(_ context.Context, ip string) (*GeoInfo, error) {
	c.calls.Add(1)
	return &GeoInfo{CountryISO: "DE", CountryName: "Germany", City: "Berlin"}, nil
}

func TestEngine_CacheShortCircuitsProvider(t *testing.T) {
	cache, err := intelcache.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	e := newTestEngine(t)
	e.SetCache(cache)
	geo := &countingGeo{}
	e.SetGeoIPProvider(geo)
	err = e.AddRule(Rule{
		ID:      "geo",
		Enabled: true,
		Actions: []Action{{Type: ActionGeoIP, Field: "source.ip"}},
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	for i := 0; i < 3; i++ {
		ev := event.NewNormalizedEvent()
		ev.SetString("source.ip", "198.51.100.7")
		if err := e.Enrich(context.Background(), ev); err != nil {
			t.Fatalf("Enrich #%d: %v", i, err)
		}
		if ev.GetString("source.geo.city_name") != "Berlin" {
			t.Errorf("city = %q, want Berlin", ev.GetString("source.geo.city_name"))
		}
	}
	if n := geo.calls.Load(); n != 1 {
		t.Errorf("provider calls = %d, want 1 with cache attached", n)
	}
}

func TestEngine_StampsTrailer(t *testing.T) {
	e := newTestEngine(t)
	ev := event.NewNormalizedEvent()
	before := time.Now().UTC()
	if err := e.Enrich(context.Background(), ev); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	stamp := ev.Get(event.FieldEnrichmentTimestamp)
	if stamp.IsNil() {
		t.Fatal("enrichment timestamp missing")
	}
	ts := stamp.TimeVal()
	if ts.IsZero() {
		t.Fatalf("timestamp %v is not a time value", stamp)
	}
	if ts.Before(before.Add(-time.Second)) {
		t.Errorf("timestamp %v predates the call", ts)
	}
	if !ev.Has(event.FieldEnrichmentRules) {
		t.Error("rules_applied missing on an event with no matching rules")
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Enrich(ctx, event.NewNormalizedEvent()); err == nil {
		t.Error("expected context error")
	}
}

func TestDefaultRules_EndToEnd(t *testing.T) {
	e := newTestEngine(t)
	for _, r := range DefaultRules() {
		if err := e.AddRule(r); err != nil {
			t.Fatalf("AddRule(%s): %v", r.ID, err)
		}
	}

	// A denied cloud API call from a known-bad external address.
	ev := event.NewNormalizedEvent()
	ev.SetSeverity(event.SeverityHigh)
	ev.Set(event.FieldEventCategory, event.Strings("cloud", "iam"))
	ev.SetString(event.FieldEventOutcome, "failure")
	ev.SetString("source.ip", "203.0.113.5")

	if err := e.Enrich(context.Background(), ev); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	if ev.GetString("source.geo.country_iso_code") != "ZZ" {
		t.Errorf("geo country = %q", ev.GetString("source.geo.country_iso_code"))
	}
	if !ev.Get("tags").Contains("threat-intel-match") {
		t.Error("threat intel did not flag TEST-NET-3 address")
	}
	// severity 75*0.4 + iam 20 + external source 15.
	if got := ev.Get(FieldRiskScore).Num(); got != 65 {
		t.Errorf("risk score = %v, want 65", got)
	}

	applied := ev.Get(event.FieldEnrichmentRules)
	for _, id := range []string{"geoip-source", "threat-intel-source", "risk-score"} {
		if !applied.Contains(id) {
			t.Errorf("rules_applied missing %s", id)
		}
	}
}
