package parser

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Extraction patterns for the detected_* stage.
var (
	ipv4Pattern         = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	emailPattern        = regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`)
	urlPattern          = regexp.MustCompile(`\bhttps?://[^\s"'<>]+`)
	macPattern          = regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`)
	isoTimestampPattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?\b`)

	quotedPattern = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

	kvWhitespacePattern = regexp.MustCompile(`(\w[\w.\-]*)=("(?:[^"\\]|\\.)*"|\S+)`)
	kvQuotedPattern     = regexp.MustCompile(`(\w[\w.\-]*)="((?:[^"\\]|\\.)*)"`)
)

// ExtractFromMessage pulls a flat string map out of an unstructured message.
// Strategies are tried in order; the first one producing at least one field
// wins: whole-payload JSON, key-value pairs (four sub-strategies), common
// patterns under detected_* keys, then bare quoted strings.
func ExtractFromMessage(message string) map[string]string {
	if fields := extractJSON(message); len(fields) > 0 {
		return fields
	}
	if fields := extractKeyValue(message); len(fields) > 0 {
		return fields
	}
	if fields := extractPatterns(message); len(fields) > 0 {
		return fields
	}
	return extractQuoted(message)
}

// extractJSON flattens a whole-payload JSON object one level deep using
// dotted keys for nested objects.
func extractJSON(message string) map[string]string {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil
	}

	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch nested := v.(type) {
		case map[string]any:
			for nk, nv := range nested {
				out[k+"."+nk] = stringifyJSON(nv)
			}
		default:
			out[k] = stringifyJSON(v)
		}
	}
	return out
}

func stringifyJSON(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// extractKeyValue tries four key-value styles, stopping at the first that
// yields at least one pair: whitespace-separated pairs, quoted values,
// comma-delimited pairs, and a tolerant escape-aware scan.
func extractKeyValue(message string) map[string]string {
	if fields := kvWhitespace(message); len(fields) > 0 {
		return fields
	}
	if fields := kvQuoted(message); len(fields) > 0 {
		return fields
	}
	if fields := kvCommaDelimited(message); len(fields) > 0 {
		return fields
	}
	return kvTolerant(message)
}

func kvQuoted(message string) map[string]string {
	matches := kvQuotedPattern.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		out[m[1]] = unescape(m[2])
	}
	return out
}

// kvWhitespace splits the message into whitespace-separated key=value
// tokens. A double-quoted value counts as one token so pairs like
// action="user login" keep their spaces.
func kvWhitespace(message string) map[string]string {
	matches := kvWhitespacePattern.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		v := m[2]
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			out[m[1]] = unescape(v[1 : len(v)-1])
			continue
		}
		out[m[1]] = strings.Trim(v, `",`)
	}
	return out
}

func kvCommaDelimited(message string) map[string]string {
	parts := strings.Split(message, ",")
	if len(parts) < 2 {
		return nil
	}
	out := make(map[string]string)
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			k, v, ok = strings.Cut(part, ":")
		}
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k != "" && v != "" && !strings.ContainsAny(k, " \t") {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// kvTolerant scans character by character, honoring backslash escapes and
// quoted values, and tolerates malformed fragments between pairs.
func kvTolerant(message string) map[string]string {
	out := make(map[string]string)
	i := 0
	for i < len(message) {
		// find the next key=  run
		eq := strings.IndexByte(message[i:], '=')
		if eq < 0 {
			break
		}
		eq += i

		keyStart := eq
		for keyStart > i && isKeyByte(message[keyStart-1]) {
			keyStart--
		}
		key := message[keyStart:eq]
		if key == "" {
			i = eq + 1
			continue
		}

		value, next := scanValue(message, eq+1)
		if value != "" {
			out[key] = value
		}
		i = next
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func scanValue(s string, start int) (string, int) {
	if start >= len(s) {
		return "", start
	}
	if s[start] == '"' {
		var b strings.Builder
		i := start + 1
		for i < len(s) {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			if c == '"' {
				return b.String(), i + 1
			}
			b.WriteByte(c)
			i++
		}
		return b.String(), i
	}

	end := start
	for end < len(s) && s[end] != ' ' && s[end] != '\t' && s[end] != ',' {
		end++
	}
	return s[start:end], end
}

func isKeyByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// extractPatterns pulls well-known token shapes out of free text. The first
// occurrence of each shape lands under its detected_* key; repeats get an
// index suffix.
func extractPatterns(message string) map[string]string {
	out := make(map[string]string)
	addMatches(out, "detected_ip", ipv4Pattern.FindAllString(message, -1))
	addMatches(out, "detected_email", emailPattern.FindAllString(message, -1))
	addMatches(out, "detected_url", urlPattern.FindAllString(message, -1))
	addMatches(out, "detected_mac", macPattern.FindAllString(message, -1))
	addMatches(out, "detected_timestamp", isoTimestampPattern.FindAllString(message, -1))
	if len(out) == 0 {
		return nil
	}
	return out
}

func addMatches(out map[string]string, key string, matches []string) {
	for i, m := range matches {
		if i == 0 {
			out[key] = m
			continue
		}
		out[fmt.Sprintf("%s_%d", key, i+1)] = m
	}
}

// extractQuoted returns double-quoted substrings under quoted_N keys.
func extractQuoted(message string) map[string]string {
	matches := quotedPattern.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(matches))
	for i, m := range matches {
		out[fmt.Sprintf("quoted_%d", i)] = unescape(m[1])
	}
	return out
}

// FieldType classifies an extracted value.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeIP      FieldType = "ip"
	FieldTypeEmail   FieldType = "email"
	FieldTypeURL     FieldType = "url"
)

// FieldValue is an extracted value with inferred type and confidence.
type FieldValue struct {
	Value      string
	Type       FieldType
	Confidence float64
}

// ExtractFieldsWithConfidence runs ExtractFromMessage and scores each field:
// key quality, value quality, and whether the key appears verbatim in the
// source each contribute to the 0-1 confidence.
func ExtractFieldsWithConfidence(message string) map[string]FieldValue {
	fields := ExtractFromMessage(message)
	out := make(map[string]FieldValue, len(fields))
	for k, v := range fields {
		out[k] = FieldValue{
			Value:      v,
			Type:       inferType(v),
			Confidence: scoreField(k, v, message),
		}
	}
	return out
}

func inferType(v string) FieldType {
	switch {
	case v == "true" || v == "false":
		return FieldTypeBoolean
	case net.ParseIP(v) != nil:
		return FieldTypeIP
	case emailPattern.MatchString(v) && emailPattern.FindString(v) == v:
		return FieldTypeEmail
	case strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://"):
		return FieldTypeURL
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return FieldTypeNumber
	}
	if _, err := time.Parse(time.RFC3339, v); err == nil {
		return FieldTypeDate
	}
	if isoTimestampPattern.FindString(v) == v {
		return FieldTypeDate
	}
	return FieldTypeString
}

func scoreField(key, value, source string) float64 {
	score := 0.0

	// Key quality: short, word-like keys read as intentional field names;
	// synthesized keys (detected_*, quoted_*) rank lower.
	switch {
	case strings.HasPrefix(key, "quoted_"):
		score += 0.1
	case strings.HasPrefix(key, "detected_"):
		score += 0.2
	case len(key) <= 32 && idPattern.MatchString(strings.ToLower(key)):
		score += 0.4
	default:
		score += 0.25
	}

	// Value quality.
	switch {
	case value == "":
		// keep zero contribution
	case inferType(value) != FieldTypeString:
		score += 0.3
	case len(value) <= 256:
		score += 0.2
	default:
		score += 0.1
	}

	// Verbatim key presence in the source.
	if key != "" && strings.Contains(source, key) {
		score += 0.3
	}

	if score > 1 {
		score = 1
	}
	return score
}
