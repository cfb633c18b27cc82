package config

import (
	"fmt"
	"time"

	"github.com/aegis-siem/aegis/pkg/models"
)

// RulesConfig is the declarative detection rule configuration (rules.yaml).
// The engine evaluates a closed set of rules; this config tunes and
// enables them, it cannot add new ones.
type RulesConfig struct {
	SSHBruteForce   SSHBruteForceRule   `yaml:"ssh_brute_force"`
	SudoUsage       SudoUsageRule       `yaml:"sudo_usage"`
	SuspiciousAdmin SuspiciousAdminRule `yaml:"suspicious_admin"`
}

// SSHBruteForceRule configures the windowed failed-login counter rule.
type SSHBruteForceRule struct {
	Enabled       *bool  `yaml:"enabled,omitempty"`
	Severity      string `yaml:"severity"`
	WindowSeconds int    `yaml:"window_seconds"`
	Threshold     int    `yaml:"threshold"`
}

// Window returns the counter TTL as a duration.
func (r SSHBruteForceRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// SudoUsageRule configures the sudo keyword rule.
type SudoUsageRule struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Severity string `yaml:"severity"`
}

// SuspiciousAdminRule configures the new-IP admin login rule.
type SuspiciousAdminRule struct {
	Enabled    *bool    `yaml:"enabled,omitempty"`
	Severity   string   `yaml:"severity"`
	AdminUsers []string `yaml:"admin_users"`
}

// DefaultRulesConfig returns the built-in rule defaults. File values merge
// over these, so a partial rules.yaml only overrides what it names.
func DefaultRulesConfig() *RulesConfig {
	enabled := true
	return &RulesConfig{
		SSHBruteForce: SSHBruteForceRule{
			Enabled:       &enabled,
			Severity:      models.SeverityHigh,
			WindowSeconds: 60,
			Threshold:     5,
		},
		SudoUsage: SudoUsageRule{
			Enabled:  &enabled,
			Severity: models.SeverityMedium,
		},
		SuspiciousAdmin: SuspiciousAdminRule{
			Enabled:    &enabled,
			Severity:   models.SeverityCritical,
			AdminUsers: []string{"root", "admin", "ubuntu"},
		},
	}
}

// Validate checks rule parameters after defaults and file values merge.
func (c *RulesConfig) Validate() error {
	if c.SSHBruteForce.WindowSeconds <= 0 {
		return fmt.Errorf("rules config: ssh_brute_force.window_seconds must be positive, got %d", c.SSHBruteForce.WindowSeconds)
	}
	if c.SSHBruteForce.Threshold < 1 {
		return fmt.Errorf("rules config: ssh_brute_force.threshold must be at least 1, got %d", c.SSHBruteForce.Threshold)
	}
	for name, severity := range map[string]string{
		"ssh_brute_force":  c.SSHBruteForce.Severity,
		"sudo_usage":       c.SudoUsage.Severity,
		"suspicious_admin": c.SuspiciousAdmin.Severity,
	} {
		if models.SeverityRank(severity) == 0 {
			return fmt.Errorf("rules config: %s.severity %q is not a known severity level", name, severity)
		}
	}
	return nil
}

// ruleEnabled interprets the tri-state enabled flag: unset means enabled.
func ruleEnabled(flag *bool) bool {
	return flag == nil || *flag
}

// IsEnabled reports whether the rule should be evaluated.
func (r SSHBruteForceRule) IsEnabled() bool { return ruleEnabled(r.Enabled) }

// IsEnabled reports whether the rule should be evaluated.
func (r SudoUsageRule) IsEnabled() bool { return ruleEnabled(r.Enabled) }

// IsEnabled reports whether the rule should be evaluated.
func (r SuspiciousAdminRule) IsEnabled() bool { return ruleEnabled(r.Enabled) }
