// Package services contains the capture orchestration core: throttle
// policy, queue manager, sync logging, embedding pipeline and the
// capture handlers themselves.
package services

import (
	"time"

	"github.com/rivetlabs/gitpulse/internal/core/domain"
)

// ThrottleConfig holds the minimum re-sync windows per trigger reason.
// The literal thresholds are tuned policy, not invariants; they are
// configurable for that reason.
type ThrottleConfig struct {
	// WebhookWindow is the minimum interval between webhook-triggered syncs.
	WebhookWindow time.Duration

	// DependencyWindow is the minimum interval for dependency-triggered syncs.
	DependencyWindow time.Duration

	// ScheduledWindow is the minimum interval for cron-triggered syncs.
	ScheduledWindow time.Duration

	// IncompleteFloor caps the window for repositories without complete
	// data so partially captured repositories are not starved.
	IncompleteFloor time.Duration
}

// DefaultThrottleConfig returns the production throttle windows.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		WebhookWindow:    1 * time.Hour,
		DependencyWindow: 30 * time.Minute,
		ScheduledWindow:  12 * time.Hour,
		IncompleteFloor:  5 * time.Minute,
	}
}

// ThrottlePolicy decides whether a repository sync should be skipped
// because it ran recently. Pure: no clock access beyond the injected
// now function, no side effects.
type ThrottlePolicy struct {
	cfg ThrottleConfig
	now func() time.Time
}

// NewThrottlePolicy creates a policy with the given windows.
func NewThrottlePolicy(cfg ThrottleConfig) *ThrottlePolicy {
	return &ThrottlePolicy{cfg: cfg, now: time.Now}
}

// newThrottlePolicyAt pins the clock for tests.
func newThrottlePolicyAt(cfg ThrottleConfig, now func() time.Time) *ThrottlePolicy {
	return &ThrottlePolicy{cfg: cfg, now: now}
}

// ShouldSkip reports whether a sync triggered for the given reason
// should be skipped. Manual syncs never skip. Repositories without
// complete data get at most the incomplete floor as their window.
func (p *ThrottlePolicy) ShouldSkip(lastSyncAt time.Time, reason domain.SyncReason, hasCompleteData bool) bool {
	if reason == domain.ReasonManual {
		return false
	}
	if lastSyncAt.IsZero() {
		return false
	}

	window := p.window(reason)
	if !hasCompleteData && window > p.cfg.IncompleteFloor {
		window = p.cfg.IncompleteFloor
	}

	return p.now().Sub(lastSyncAt) < window
}

// Window returns the effective minimum re-sync interval for a reason
// and completeness state. Exposed for logging skip decisions.
func (p *ThrottlePolicy) Window(reason domain.SyncReason, hasCompleteData bool) time.Duration {
	if reason == domain.ReasonManual {
		return 0
	}
	window := p.window(reason)
	if !hasCompleteData && window > p.cfg.IncompleteFloor {
		window = p.cfg.IncompleteFloor
	}
	return window
}

func (p *ThrottlePolicy) window(reason domain.SyncReason) time.Duration {
	switch reason {
	case domain.ReasonWebhook:
		return p.cfg.WebhookWindow
	case domain.ReasonDependency:
		return p.cfg.DependencyWindow
	case domain.ReasonScheduled:
		return p.cfg.ScheduledWindow
	}
	// Unknown reasons get the conservative scheduled window.
	return p.cfg.ScheduledWindow
}
