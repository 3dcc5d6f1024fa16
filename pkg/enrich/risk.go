package enrich

import (
	"net"

	"github.com/securewatch/ingest/pkg/event"
)

// FieldRiskScore is where the risk_score formula writes its result.
const FieldRiskScore = "securewatch.risk_score"

// calculateRiskScore scores an event 0-100 from severity, authentication
// failures, privileged identity involvement and an external source address.
func calculateRiskScore(ev event.NormalizedEvent) float64 {
	score := float64(severityInt(ev)) * 0.4

	if ev.Get(event.FieldEventCategory).Contains("authentication") &&
		ev.GetString(event.FieldEventOutcome) == string(event.OutcomeFailure) {
		score += 30
	}

	if ev.Get(event.FieldEventCategory).Contains("iam") ||
		ev.Get("user.roles").Contains("admin") {
		score += 20
	}

	if ip := ev.GetString("source.ip"); ip != "" && isExternalIP(ip) {
		score += 15
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func severityInt(ev event.NormalizedEvent) int {
	if v := ev.Get(event.FieldEventSeverity); !v.IsNil() {
		return int(v.Num())
	}
	return 0
}

// isExternalIP reports whether the address is routable on the public
// internet: not RFC 1918, loopback, link-local, or ULA (fc00::/7).
func isExternalIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	if ip.IsUnspecified() {
		return false
	}
	return true
}
