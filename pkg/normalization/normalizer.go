// Package normalization parses raw log lines into structured fields,
// dispatched by the event's source tag.
package normalization

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aegis-siem/aegis/pkg/models"
)

// Patterns for the built-in log formats.
var (
	// Nginx combined log format:
	// 127.0.0.1 - - [08/Jan/2026:17:37:52 +0000] "GET /api/v1/logs HTTP/1.1" 202 31 "-" "python-requests/2.32.5"
	nginxPattern = regexp.MustCompile(`^(?P<ip>[\d\.]+) - (?P<remote_user>[\w-]+) \[(?P<timestamp>.*?)\] "(?P<verb>\w+) (?P<path>.*?) HTTP/[0-9\.]+" (?P<status>\d+) (?P<bytes>\d+) "(?P<referrer>.*?)" "(?P<user_agent>.*?)"`)

	// sshd auth lines:
	// Failed password for invalid user admin from 192.168.1.1 port 22 ssh2
	// Accepted password for root from 192.168.1.1 port 22 ssh2
	sshFailedPattern   = regexp.MustCompile(`Failed password for (?:invalid user )?(?P<user>[\w\-_]+) from (?P<ip>[\d\.]+) port \d+ ssh2`)
	sshAcceptedPattern = regexp.MustCompile(`Accepted password for (?P<user>[\w\-_]+) from (?P<ip>[\d\.]+) port \d+ ssh2`)

	// UFW kernel log:
	// [UFW BLOCK] IN=eth0 OUT= MAC=... SRC=1.2.3.4 DST=5.6.7.8 ... PROTO=TCP ...
	ufwPattern = regexp.MustCompile(`\[UFW BLOCK\] .*?SRC=(?P<ip>[\d\.]+) .*?DST=(?P<dst>[\d\.]+) .*?PROTO=(?P<proto>\w+)`)
)

// Normalizer extracts structured fields from raw log messages. It holds no
// state and never fails: unrecognized input yields no fields and the event
// passes through unchanged.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Parse extracts fields from a message according to its source tag.
// Returns nil when nothing could be extracted.
func (n *Normalizer) Parse(message, source string) map[string]any {
	switch source {
	case models.SourceNginx:
		return parseNginx(message)
	case models.SourceSSH:
		return parseSSH(message)
	default:
		if strings.Contains(message, "UFW BLOCK") {
			return parseUFW(message)
		}
	}
	return nil
}

// parseNginx handles the combined access-log format. The parsed timestamp
// is discarded: the ingest timestamp is authoritative and the access-log
// format conflicts with the index date mapping.
func parseNginx(message string) map[string]any {
	match := nginxPattern.FindStringSubmatch(message)
	if match == nil {
		return nil
	}
	fields := groupMap(nginxPattern, match)
	delete(fields, "timestamp")
	coerceInt(fields, "status")
	coerceInt(fields, "bytes")
	return fields
}

// parseSSH recognizes failed and accepted password attempts, in that
// order.
func parseSSH(message string) map[string]any {
	if match := sshFailedPattern.FindStringSubmatch(message); match != nil {
		fields := groupMap(sshFailedPattern, match)
		fields["event_type"] = models.EventTypeSSHLoginFailed
		fields["action"] = "block"
		return fields
	}
	if match := sshAcceptedPattern.FindStringSubmatch(message); match != nil {
		fields := groupMap(sshAcceptedPattern, match)
		fields["event_type"] = models.EventTypeSSHLoginSuccess
		return fields
	}
	return nil
}

// parseUFW handles UFW firewall block lines regardless of source tag.
func parseUFW(message string) map[string]any {
	match := ufwPattern.FindStringSubmatch(message)
	if match == nil {
		return nil
	}
	fields := groupMap(ufwPattern, match)
	fields["event_type"] = models.EventTypeFirewallBlock
	fields["action"] = "blocked"
	fields["source"] = models.SourceFirewall
	return fields
}

// groupMap converts a submatch slice into a name-keyed field map.
func groupMap(re *regexp.Regexp, match []string) map[string]any {
	fields := make(map[string]any)
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		fields[name] = match[i]
	}
	return fields
}

// coerceInt converts a captured digit string in place.
func coerceInt(fields map[string]any, key string) {
	s, ok := fields[key].(string)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(s); err == nil {
		fields[key] = n
	}
}
