package normalize

// Syslog facility codes per RFC 3164 / RFC 5424.
var facilityNames = [...]string{
	0: "kern", 1: "user", 2: "mail", 3: "daemon",
	4: "auth", 5: "syslog", 6: "lpr", 7: "news",
	8: "uucp", 9: "cron", 10: "authpriv", 11: "ftp",
	12: "ntp", 13: "audit", 14: "alert", 15: "clock",
	16: "local0", 17: "local1", 18: "local2", 19: "local3",
	20: "local4", 21: "local5", 22: "local6", 23: "local7",
}

// FacilityName returns the conventional name for a syslog facility code, or
// "unknown" when the code is out of range.
func FacilityName(code int) string {
	if code < 0 || code >= len(facilityNames) {
		return "unknown"
	}
	return facilityNames[code]
}

// SplitPriority decomposes a syslog PRI value into facility and severity.
func SplitPriority(pri int) (facility, severity int) {
	return pri / 8, pri % 8
}

// CategoryFromFacility classifies a syslog facility into an event category.
func CategoryFromFacility(code int) string {
	switch code {
	case 4, 10: // auth, authpriv
		return "authentication"
	case 13: // audit
		return "audit"
	case 2, 11, 12: // mail, ftp, ntp
		return "network"
	case 0, 3, 5, 9, 15: // kern, daemon, syslog, cron, clock
		return "system"
	default:
		return "application"
	}
}

// CategoryFromEventID classifies a Windows security event id into an event
// category using the well-known audit ranges.
func CategoryFromEventID(id int) string {
	switch {
	case id == 4624 || id == 4625 || id == 4634 || id == 4647 || id == 4648:
		return "authentication"
	case id >= 4768 && id <= 4777: // Kerberos and NTLM ticket operations
		return "authentication"
	case id >= 4720 && id <= 4767: // account management
		return "iam"
	case id == 4672 || id == 4673 || id == 4674:
		return "authorization"
	case id >= 5140 && id <= 5145: // file share access
		return "network"
	case id >= 4656 && id <= 4670: // object access
		return "endpoint"
	case id >= 1100 && id <= 1108: // event log service
		return "audit"
	default:
		return "system"
	}
}
