// Package response turns a fully decorated event into an automated
// response decision. Blocking is soft: the IP goes on a TTL'd Redis
// blocklist that the ingest gate enforces, nothing touches the host
// firewall.
package response

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/aegis-siem/aegis/pkg/config"
	"github.com/aegis-siem/aegis/pkg/models"
	"github.com/aegis-siem/aegis/pkg/statestore"
)

// Responder applies the response policy: whitelist first, then a risk
// score against the block threshold.
type Responder struct {
	cfg       *config.ResponseConfig
	store     *statestore.Store
	whitelist []*net.IPNet
}

// New creates a responder. The whitelist CIDRs are parsed once up front.
func New(cfg *config.ResponseConfig, store *statestore.Store) *Responder {
	if cfg == nil {
		panic("response config cannot be nil")
	}
	if store == nil {
		panic("state store cannot be nil")
	}
	return &Responder{
		cfg:       cfg,
		store:     store,
		whitelist: cfg.WhitelistNetworks(),
	}
}

// Respond decides the action for the event. Events without a source IP
// get no action at all; whitelisted IPs are always monitored, never
// blocked, whatever their severity.
func (r *Responder) Respond(ctx context.Context, event *models.Event) (*models.ResponseAction, error) {
	ip := event.EffectiveIP()
	if ip == "" {
		return nil, nil
	}

	if r.isWhitelisted(ip) {
		slog.Info("Response: IP is whitelisted, monitoring only", "ip", ip)
		return &models.ResponseAction{Action: "monitor"}, nil
	}

	risk := riskScore(event)
	threshold := r.cfg.Policy.BlockThreshold
	if risk >= threshold {
		value := fmt.Sprintf("Risk Score: %d", risk)
		if err := r.store.SetFlag(ctx, statestore.BlockKey(ip), value, r.cfg.Policy.BlockDuration()); err != nil {
			return nil, fmt.Errorf("blocking %s: %w", ip, err)
		}
		slog.Warn("Response: blocked IP", "ip", ip, "risk", risk, "duration", r.cfg.Policy.BlockDuration())
		return &models.ResponseAction{
			Action: "block",
			Score:  risk,
			Reason: fmt.Sprintf("Risk Score %d > Threshold %d", risk, threshold),
		}, nil
	}

	return &models.ResponseAction{Action: "monitor", Score: risk}, nil
}

func (r *Responder) isWhitelisted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range r.whitelist {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// riskScore maps the event's final severity to a base score, boosted when
// correlation confirmed an incident chain.
func riskScore(event *models.Event) int {
	var score int
	switch event.Severity {
	case models.SeverityCritical:
		score = 100
	case models.SeverityHigh:
		score = 70
	case models.SeverityMedium:
		score = 40
	default:
		score = 10
	}
	if len(event.Incidents) > 0 {
		score += 10
	}
	return score
}
