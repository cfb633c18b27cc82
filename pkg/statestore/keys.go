package statestore

import "fmt"

// Key builders for the shared state taxonomy. Every component that touches
// Redis goes through these so the namespaces stay consistent:
//
//	rate_limit:* - per-source ingest counters (60s window)
//	risk:*       - detection state: brute-force counters, attack phases
//	blocked:*    - active blocklist entries written by the responder
//	state:*      - learned long-lived state such as known admin source IPs

// RateLimitKey is the per-minute ingest counter for a client IP.
func RateLimitKey(ip string) string {
	return "rate_limit:" + ip
}

// BruteForceKey is the failed-login counter for a source IP.
func BruteForceKey(ip string) string {
	return "risk:brute:" + ip
}

// AdminIPsKey is the set of source IPs a privileged user has logged in from.
func AdminIPsKey(user string) string {
	return "state:admin_ips:" + user
}

// PhaseKey marks an IP as having reached a stage of a multi-step attack.
func PhaseKey(phase int, ip string) string {
	return fmt.Sprintf("risk:phase:%d:%s", phase, ip)
}

// BlockKey is the blocklist entry for an IP.
func BlockKey(ip string) string {
	return "blocked:" + ip
}
