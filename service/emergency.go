package service

import (
	"context"
	"log"
	"strings"
	"sync"

	"displayfleet/clock"
	"displayfleet/models"
)

const defaultEmergencyReason = "Emergency stop"

// EmergencyController owns the platform-wide freeze flag. State is held
// in memory for the life of the process.
type EmergencyController struct {
	opMu sync.Mutex // serializes Activate/Deactivate end to end

	mu    sync.RWMutex
	state models.EmergencyState

	timers   *TimerEngine
	router   timerBroadcaster
	activity ActivityLogger
	clock    clock.Clock
}

func NewEmergencyController(timers *TimerEngine, router timerBroadcaster, activity ActivityLogger, clk clock.Clock) *EmergencyController {
	return &EmergencyController{timers: timers, router: router, activity: activity, clock: clk}
}

// Activate freezes every display and cancels all timers. Activating an
// active emergency is a no-op reported through AlreadyActive.
func (c *EmergencyController) Activate(ctx context.Context, reason, actor string) (models.EmergencyResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state.Active {
		st := c.state
		c.mu.Unlock()
		return models.EmergencyResult{AlreadyActive: true, State: st}, nil
	}
	if strings.TrimSpace(reason) == "" {
		reason = defaultEmergencyReason
	}
	c.state = models.EmergencyState{
		Active:      true,
		ActivatedAt: c.clock.Now(),
		ActivatedBy: actor,
		Reason:      reason,
	}
	st := c.state
	c.mu.Unlock()

	log.Printf("🚨 EMERGENCY ACTIVATED by %s: %s", actor, reason)
	report := c.router.Dispatch(ctx, nil, models.EventEmergencyActivated, st)
	cancelled := c.timers.CancelAll(ctx)
	log.Printf("🚨 Emergency reached %d/%d displays, %d timers cancelled", report.Delivered(), len(report.Results), cancelled)

	logActivity(ctx, c.activity, actor, "emergency_activated", map[string]any{
		"reason": reason, "timersCancelled": cancelled,
	})
	return models.EmergencyResult{TimersCancelled: cancelled, State: st}, nil
}

// Deactivate lifts the freeze. Cancelled timers are not resumed.
func (c *EmergencyController) Deactivate(ctx context.Context, actor string) (models.EmergencyResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if !c.state.Active {
		st := c.state
		c.mu.Unlock()
		return models.EmergencyResult{AlreadyInactive: true, State: st}, nil
	}
	c.state.Active = false
	c.state.DeactivatedAt = c.clock.Now()
	c.state.DeactivatedBy = actor
	st := c.state
	c.mu.Unlock()

	log.Printf("✅ Emergency deactivated by %s", actor)
	report := c.router.Dispatch(ctx, nil, models.EventEmergencyDeactivated, st)
	log.Printf("Deactivation reached %d/%d displays", report.Delivered(), len(report.Results))

	logActivity(ctx, c.activity, actor, "emergency_deactivated", nil)
	return models.EmergencyResult{State: st}, nil
}

// Status returns a copy of the current state.
func (c *EmergencyController) Status() models.EmergencyState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *EmergencyController) IsActive() bool {
	return c.Status().Active
}
