package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"displayfleet/clock"
	"displayfleet/models"
)

// timerBroadcaster is the part of BroadcastRouter the timer engine uses.
type timerBroadcaster interface {
	Dispatch(ctx context.Context, owner *string, event string, data any) DeliveryReport
}

type timerEntry struct {
	timer  models.Timer
	handle *clock.Timer
}

// TimerEngine runs DQ and tournament countdowns. Timers live in memory
// only; displays count down locally from the start event.
type TimerEngine struct {
	clock     clock.Clock
	router    timerBroadcaster
	locks     KeyedMutex
	emergency interface{ IsActive() bool }

	mu     sync.Mutex
	timers map[string]*timerEntry
}

func NewTimerEngine(clk clock.Clock, router timerBroadcaster) *TimerEngine {
	return &TimerEngine{clock: clk, router: router, timers: make(map[string]*timerEntry)}
}

// SetEmergency makes starts fail while the emergency freeze is active.
func (e *TimerEngine) SetEmergency(em interface{ IsActive() bool }) { e.emergency = em }

func (e *TimerEngine) frozen() error {
	if e.emergency != nil && e.emergency.IsActive() {
		return fmt.Errorf("%w: emergency is active", ErrConflict)
	}
	return nil
}

// visible reports whether p may see or cancel a timer of tenant.
func visible(p Principal, tenant string) bool {
	return p.IsAdmin || p.Tenant() == tenant
}

// StartDQ starts (or restarts) the disqualification countdown for one TV.
func (e *TimerEngine) StartDQ(ctx context.Context, p Principal, req models.DQTimerRequest) (models.Timer, error) {
	tv := strings.TrimSpace(req.TV)
	if tv == "" {
		return models.Timer{}, fmt.Errorf("%w: tv is required", ErrValidation)
	}
	if req.DurationSeconds < models.DQTimerMinSeconds || req.DurationSeconds > models.DQTimerMaxSeconds {
		return models.Timer{}, fmt.Errorf("%w: DQ timer duration must be %d-%d seconds",
			ErrValidation, models.DQTimerMinSeconds, models.DQTimerMaxSeconds)
	}
	tenant := p.Tenant()
	return e.start(ctx, models.Timer{
		Key:             models.DQTimerKey(tenant, tv),
		Kind:            models.TimerDQ,
		Tenant:          tenant,
		TV:              tv,
		TournamentID:    req.TournamentID,
		MatchID:         req.MatchID,
		PlayerName:      req.PlayerName,
		DurationSeconds: req.DurationSeconds,
		StartedBy:       p.Actor(),
	})
}

// StartTournament starts the tenant's single tournament-wide countdown.
func (e *TimerEngine) StartTournament(ctx context.Context, p Principal, durationSeconds int) (models.Timer, error) {
	if durationSeconds < models.TournamentTimerMinSeconds || durationSeconds > models.TournamentTimerMaxSeconds {
		return models.Timer{}, fmt.Errorf("%w: tournament timer duration must be %d-%d seconds",
			ErrValidation, models.TournamentTimerMinSeconds, models.TournamentTimerMaxSeconds)
	}
	tenant := p.Tenant()
	return e.start(ctx, models.Timer{
		Key:             models.TournamentTimerKey(tenant),
		Kind:            models.TimerTournament,
		Tenant:          tenant,
		DurationSeconds: durationSeconds,
		StartedBy:       p.Actor(),
	})
}

// start replaces whatever runs under t.Key. Events for one key are sent
// while holding its lock so displays see hide/start in order. The
// emergency check and the swap happen under mu, so CancelAll never misses
// a timer that started before the freeze.
func (e *TimerEngine) start(ctx context.Context, t models.Timer) (models.Timer, error) {
	unlock := e.locks.Lock(t.Key)
	defer unlock()

	t.ID = uuid.NewString()
	t.StartedAt = e.clock.Now()
	t.State = models.TimerRunning
	entry := &timerEntry{timer: t}

	e.mu.Lock()
	if err := e.frozen(); err != nil {
		e.mu.Unlock()
		return models.Timer{}, err
	}
	old := e.timers[t.Key]
	e.timers[t.Key] = entry
	e.mu.Unlock()
	if old != nil {
		old.handle.Stop()
		old.timer.State = models.TimerCancelled
	}

	key, id := t.Key, t.ID
	entry.handle = e.clock.AfterFunc(time.Duration(t.DurationSeconds)*time.Second, func() {
		e.expire(key, id)
	})

	if old != nil {
		e.broadcast(ctx, models.EventTimerHide, old.timer, "replaced")
	}
	log.Printf("⏱️  Timer %s started for %ds by %s", t.Key, t.DurationSeconds, t.StartedBy)
	e.broadcast(ctx, models.EventTimerStart, t, "")
	return t, nil
}

// expire runs from the clock. A callback whose timer was already
// replaced or cancelled finds a different id (or nothing) and returns.
func (e *TimerEngine) expire(key, id string) {
	unlock := e.locks.Lock(key)
	defer unlock()

	e.mu.Lock()
	entry := e.timers[key]
	if entry == nil || entry.timer.ID != id {
		e.mu.Unlock()
		return
	}
	delete(e.timers, key)
	e.mu.Unlock()

	entry.timer.State = models.TimerExpired
	log.Printf("⏱️  Timer %s expired", key)
	e.broadcast(context.Background(), models.EventTimerHide, entry.timer, "expired")
}

// Cancel stops the timer under key. It returns false when there was
// nothing to cancel, including when the timer belongs to a tenant p
// cannot see.
func (e *TimerEngine) Cancel(ctx context.Context, p Principal, key string) bool {
	return e.cancel(ctx, key, func(tenant string) bool { return visible(p, tenant) })
}

func (e *TimerEngine) cancel(ctx context.Context, key string, allowed func(tenant string) bool) bool {
	unlock := e.locks.Lock(key)
	defer unlock()

	e.mu.Lock()
	entry := e.timers[key]
	if entry == nil || !allowed(entry.timer.Tenant) {
		e.mu.Unlock()
		return false
	}
	delete(e.timers, key)
	e.mu.Unlock()
	entry.handle.Stop()
	entry.timer.State = models.TimerCancelled
	log.Printf("⏱️  Timer %s cancelled", key)
	e.broadcast(ctx, models.EventTimerHide, entry.timer, "cancelled")
	return true
}

// CancelAll cancels every running timer and returns how many it stopped.
func (e *TimerEngine) CancelAll(ctx context.Context) int {
	e.mu.Lock()
	keys := make([]string, 0, len(e.timers))
	for k := range e.timers {
		keys = append(keys, k)
	}
	e.mu.Unlock()
	sort.Strings(keys)

	n := 0
	for _, k := range keys {
		if e.cancel(ctx, k, func(string) bool { return true }) {
			n++
		}
	}
	return n
}

// ListActive returns the running timers p can see, with their
// remaining seconds. Admins see every tenant.
func (e *TimerEngine) ListActive(p Principal) []models.ActiveTimer {
	now := e.clock.Now()
	e.mu.Lock()
	out := make([]models.ActiveTimer, 0, len(e.timers))
	for _, entry := range e.timers {
		if !visible(p, entry.timer.Tenant) {
			continue
		}
		elapsed := int(now.Sub(entry.timer.StartedAt) / time.Second)
		remaining := entry.timer.DurationSeconds - elapsed
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, models.ActiveTimer{Timer: entry.timer, RemainingSeconds: remaining})
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (e *TimerEngine) broadcast(ctx context.Context, event string, t models.Timer, reason string) {
	if e.router == nil {
		return
	}
	var owner *string
	if t.Tenant != models.GlobalTenant {
		tenant := t.Tenant
		owner = &tenant
	}
	data := map[string]any{"timer": t}
	if reason != "" {
		data["reason"] = reason
	}
	report := e.router.Dispatch(ctx, owner, event, data)
	if report.PushErr != nil {
		log.Printf("⚠️  %s for %s reached %d/%d displays", event, t.Key, report.Delivered(), len(report.Results))
	}
}
