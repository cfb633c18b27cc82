package config

import (
	"fmt"
	"net"
	"time"
)

// ResponseConfig is the automated response policy (response.yaml).
type ResponseConfig struct {
	Whitelist WhitelistConfig `yaml:"whitelist"`
	Policy    PolicyConfig    `yaml:"policy"`
}

// WhitelistConfig lists CIDR ranges that are never blocked.
type WhitelistConfig struct {
	CIDRs []string `yaml:"cidrs"`
}

// PolicyConfig tunes the block decision.
type PolicyConfig struct {
	BlockThreshold       int `yaml:"block_threshold"`
	BlockDurationSeconds int `yaml:"block_duration_seconds"`
}

// BlockDuration returns the blocklist TTL as a duration.
func (p PolicyConfig) BlockDuration() time.Duration {
	return time.Duration(p.BlockDurationSeconds) * time.Second
}

// DefaultResponseConfig returns the built-in response policy defaults:
// no whitelist, block at risk 80 for five minutes.
func DefaultResponseConfig() *ResponseConfig {
	return &ResponseConfig{
		Policy: PolicyConfig{
			BlockThreshold:       80,
			BlockDurationSeconds: 300,
		},
	}
}

// Validate checks the policy values and that every whitelist entry parses
// as a CIDR.
func (c *ResponseConfig) Validate() error {
	if c.Policy.BlockThreshold <= 0 {
		return fmt.Errorf("response config: policy.block_threshold must be positive, got %d", c.Policy.BlockThreshold)
	}
	if c.Policy.BlockDurationSeconds <= 0 {
		return fmt.Errorf("response config: policy.block_duration_seconds must be positive, got %d", c.Policy.BlockDurationSeconds)
	}
	for _, cidr := range c.Whitelist.CIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("response config: whitelist.cidrs entry %q: %w", cidr, err)
		}
	}
	return nil
}

// WhitelistNetworks parses the configured CIDRs. Call Validate first;
// unparseable entries are skipped here.
func (c *ResponseConfig) WhitelistNetworks() []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(c.Whitelist.CIDRs))
	for _, cidr := range c.Whitelist.CIDRs {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, network)
		}
	}
	return nets
}
