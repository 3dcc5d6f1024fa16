package enrich

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/securewatch/ingest/internal/logger"
	"github.com/securewatch/ingest/pkg/enrich/intelcache"
)

// GeoInfo is a geolocation verdict for an IP address.
type GeoInfo struct {
	CountryISO  string  `json:"country_iso"`
	CountryName string  `json:"country_name"`
	City        string  `json:"city"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
}

// ThreatInfo is a threat-intelligence verdict for an indicator.
type ThreatInfo struct {
	Matched    bool     `json:"matched"`
	Indicator  string   `json:"indicator"`
	Source     string   `json:"source"`
	Score      float64  `json:"score"`
	Categories []string `json:"categories"`
}

// GeoIPProvider resolves an IP address to a location.
type GeoIPProvider interface {
	LookupIP(ctx context.Context, ip string) (*GeoInfo, error)
}

// ThreatIntelProvider checks an indicator (IP, hash, domain) against threat
// feeds.
type ThreatIntelProvider interface {
	LookupIndicator(ctx context.Context, indicator string) (*ThreatInfo, error)
}

// MockGeoIP is the provider used when no real geolocation backend is
// configured. It answers deterministically: documentation and private
// ranges map to fixed locations.
type MockGeoIP struct{}

func (MockGeoIP) LookupIP(_ context.Context, ip string) (*GeoInfo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, nil
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() {
		return nil, nil
	}
	return &GeoInfo{
		CountryISO:  "ZZ",
		CountryName: "Unknown",
		City:        "Unknown",
	}, nil
}

// MockThreatIntel is the provider used when no real feed is configured.
// Indicators inside 203.0.113.0/24 (TEST-NET-3) report as matched so the
// threat path stays testable end to end.
type MockThreatIntel struct{}

func (MockThreatIntel) LookupIndicator(_ context.Context, indicator string) (*ThreatInfo, error) {
	info := &ThreatInfo{Indicator: indicator, Source: "mock"}
	if ip := net.ParseIP(indicator); ip != nil {
		if _, testNet, _ := net.ParseCIDR("203.0.113.0/24"); testNet.Contains(ip) {
			info.Matched = true
			info.Score = 80
			info.Categories = []string{"scanner"}
		}
	} else if strings.HasPrefix(indicator, "bad-") {
		info.Matched = true
		info.Score = 90
		info.Categories = []string{"malware"}
	}
	return info, nil
}

// providerCache fronts the two providers with a TTL cache, badger-backed
// when available and falling back to nothing but the providers themselves
// when the cache is nil.
type providerCache struct {
	cache *intelcache.Cache
	ttl   time.Duration
}

func (p *providerCache) get(key string, out any) bool {
	if p == nil || p.cache == nil {
		return false
	}
	data, ok, err := p.cache.Get(key)
	if err != nil {
		logger.Warn("intel cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Warn("intel cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (p *providerCache) put(key string, v any) {
	if p == nil || p.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := p.cache.Set(key, data, p.ttl); err != nil {
		logger.Warn("intel cache write failed", "key", key, "error", err)
	}
}
