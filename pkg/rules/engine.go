// Package rules evaluates the configured detection rules against
// normalized events. The rule set is closed: configuration tunes
// thresholds, severities, and enablement, but cannot add new rules.
package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aegis-siem/aegis/pkg/config"
	"github.com/aegis-siem/aegis/pkg/models"
	"github.com/aegis-siem/aegis/pkg/statestore"
)

// Engine runs the detection rules in declared order. Stateful rules
// (brute force counting, known admin IPs) keep their state in Redis so
// every worker replica sees the same counters.
type Engine struct {
	cfg   *config.RulesConfig
	store *statestore.Store
}

// NewEngine creates a rule engine backed by the given state store.
func NewEngine(cfg *config.RulesConfig, store *statestore.Store) *Engine {
	if cfg == nil {
		panic("rules config cannot be nil")
	}
	if store == nil {
		panic("state store cannot be nil")
	}
	return &Engine{cfg: cfg, store: store}
}

// Evaluate applies every enabled rule to the event and returns the raised
// alerts plus the highest severity among the rules that fired. The
// severity is empty when nothing fired. A state store failure aborts the
// whole evaluation so the event stays pending and gets redelivered.
func (e *Engine) Evaluate(ctx context.Context, event *models.Event) ([]string, string, error) {
	var alerts []string
	var maxSeverity string

	record := func(alert, severity string) {
		alerts = append(alerts, alert)
		maxSeverity = models.MaxSeverity(maxSeverity, severity)
	}

	if e.cfg.SSHBruteForce.IsEnabled() {
		alert, err := e.checkBruteForce(ctx, event)
		if err != nil {
			return nil, "", err
		}
		if alert != "" {
			record(alert, e.cfg.SSHBruteForce.Severity)
		}
	}

	if e.cfg.SudoUsage.IsEnabled() && matchesSudoUsage(event.Message) {
		record("Suspicious Sudo Command Detection", e.cfg.SudoUsage.Severity)
	}

	if e.cfg.SuspiciousAdmin.IsEnabled() {
		alert, err := e.checkAdminLogin(ctx, event)
		if err != nil {
			return nil, "", err
		}
		if alert != "" {
			record(alert, e.cfg.SuspiciousAdmin.Severity)
		}
	}

	return alerts, maxSeverity, nil
}

// checkBruteForce counts failed SSH logins per source IP inside a sliding
// window and fires once the count reaches the threshold. The counter
// keeps incrementing past the threshold, so a sustained attack raises an
// alert on every further failure until the window expires.
func (e *Engine) checkBruteForce(ctx context.Context, event *models.Event) (string, error) {
	if event.EventType != models.EventTypeSSHLoginFailed {
		return "", nil
	}
	ip := event.EffectiveIP()
	if ip == "" {
		return "", nil
	}

	count, err := e.store.IncrWithTTLOnFirst(ctx, statestore.BruteForceKey(ip), e.cfg.SSHBruteForce.Window())
	if err != nil {
		return "", fmt.Errorf("counting failed logins for %s: %w", ip, err)
	}
	if count >= int64(e.cfg.SSHBruteForce.Threshold) {
		return fmt.Sprintf("SSH Brute Force Detected from %s (%d failures)", ip, count), nil
	}
	return "", nil
}

// matchesSudoUsage flags sudo invocations while ignoring shells
// complaining that sudo itself is missing.
func matchesSudoUsage(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "sudo") && !strings.Contains(msg, "command not found")
}

// checkAdminLogin alerts when a privileged user shows up from an IP never
// seen for that user before. The IP is learned either way, so the same
// address only alerts once per user.
func (e *Engine) checkAdminLogin(ctx context.Context, event *models.Event) (string, error) {
	if event.User == "" || !slices.Contains(e.cfg.SuspiciousAdmin.AdminUsers, event.User) {
		return "", nil
	}
	ip := event.EffectiveIP()
	if ip == "" {
		return "", nil
	}

	isNew, err := e.store.AddToSet(ctx, statestore.AdminIPsKey(event.User), ip)
	if err != nil {
		return "", fmt.Errorf("recording admin IP for %s: %w", event.User, err)
	}
	if isNew {
		return fmt.Sprintf("Suspicious Admin Login (New IP): User %s from %s", event.User, ip), nil
	}
	return "", nil
}
