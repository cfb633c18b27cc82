// Package correlation tracks multi-stage attacks as a per-IP phase
// machine in the state store. Phase flags expire after five minutes, so
// an attacker has to chain stages quickly to escalate.
package correlation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aegis-siem/aegis/pkg/models"
	"github.com/aegis-siem/aegis/pkg/statestore"
)

// phaseTTL bounds how long a phase stays armed before the chain resets.
const phaseTTL = 5 * time.Minute

// Correlator advances the per-IP attack phases and raises incidents on
// transitions. State lives in Redis, so every worker replica sees the
// same chain.
type Correlator struct {
	store *statestore.Store
}

// New creates a correlator backed by the given state store.
func New(store *statestore.Store) *Correlator {
	if store == nil {
		panic("state store cannot be nil")
	}
	return &Correlator{store: store}
}

// Process runs the three phase probes against the event, appends any
// raised incidents to it, and returns the newly appended ones. Probes are
// independent: a single event can fire phase two and phase three together
// when the flags line up. A state store failure aborts processing so the
// event stays pending.
func (c *Correlator) Process(ctx context.Context, event *models.Event) ([]string, error) {
	ip := event.EffectiveIP()
	if ip == "" {
		return nil, nil
	}

	// Phase 1: a brute force finding marks the IP as under attack.
	if hasBruteForceAlert(event.Alerts) {
		if err := c.store.SetFlag(ctx, statestore.PhaseKey(1, ip), "true", phaseTTL); err != nil {
			return nil, fmt.Errorf("marking phase 1 for %s: %w", ip, err)
		}
	}

	var incidents []string

	// Phase 2: the attacker got in while the brute force window was live.
	if event.EventType == models.EventTypeSSHLoginSuccess {
		armed, err := c.store.Exists(ctx, statestore.PhaseKey(1, ip))
		if err != nil {
			return nil, fmt.Errorf("checking phase 1 for %s: %w", ip, err)
		}
		if armed {
			if err := c.store.SetFlag(ctx, statestore.PhaseKey(2, ip), "true", phaseTTL); err != nil {
				return nil, fmt.Errorf("marking phase 2 for %s: %w", ip, err)
			}
			incidents = append(incidents, fmt.Sprintf("Suspicious Login after Brute Force (%s)", ip))
		}
	}

	// Phase 3: privilege escalation on a compromised session.
	if strings.Contains(strings.ToLower(event.Message), "sudo") {
		armed, err := c.store.Exists(ctx, statestore.PhaseKey(2, ip))
		if err != nil {
			return nil, fmt.Errorf("checking phase 2 for %s: %w", ip, err)
		}
		if armed {
			incidents = append(incidents, fmt.Sprintf("CRITICAL: Privilege Escalation after Brute Force (%s)", ip))
		}
	}

	event.AppendIncidents(incidents...)
	return incidents, nil
}

func hasBruteForceAlert(alerts []string) bool {
	return slices.ContainsFunc(alerts, func(alert string) bool {
		return strings.Contains(alert, "Brute Force")
	})
}
