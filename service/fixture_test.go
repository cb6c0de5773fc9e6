package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"displayfleet/clock"
	"displayfleet/config"
	"displayfleet/models"
	"displayfleet/store"
)

// fakeHub records every push. Each channel may list the device ids of
// displays connected to it.
type fakeHub struct {
	mu       sync.Mutex
	down     bool
	channels map[string][]string // channel -> connected display ids
	sent     []sentEvent
}

type sentEvent struct {
	Channel string // "*" for all, "display:<id>" for one display
	Event   models.Event
}

func newFakeHub() *fakeHub {
	return &fakeHub{channels: map[string][]string{}}
}

func (h *fakeHub) connect(channel, deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[channel] = append(h.channels[channel], deviceID)
}

func (h *fakeHub) PublishToChannel(channel string, evt models.Event) (Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return Receipt{}, ErrUnavailable
	}
	h.sent = append(h.sent, sentEvent{Channel: channel, Event: evt})
	ids := append([]string(nil), h.channels[channel]...)
	return Receipt{Clients: len(ids), Displays: ids}, nil
}

func (h *fakeHub) PublishToAll(evt models.Event) (Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return Receipt{}, ErrUnavailable
	}
	h.sent = append(h.sent, sentEvent{Channel: "*", Event: evt})
	var ids []string
	for _, c := range h.channels {
		ids = append(ids, c...)
	}
	return Receipt{Clients: len(ids), Displays: ids}, nil
}

func (h *fakeHub) PublishToDisplay(deviceID string, evt models.Event) (Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return Receipt{}, ErrUnavailable
	}
	h.sent = append(h.sent, sentEvent{Channel: "display:" + deviceID, Event: evt})
	for _, c := range h.channels {
		for _, id := range c {
			if id == deviceID {
				return Receipt{Clients: 1, Displays: []string{deviceID}}, nil
			}
		}
	}
	return Receipt{}, nil
}

// events returns the pushes named event, in order.
func (h *fakeHub) events(name string) []sentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []sentEvent
	for _, s := range h.sent {
		if s.Event.Event == name {
			out = append(out, s)
		}
	}
	return out
}

type recordedActivity struct {
	UserID  string
	Action  string
	Details map[string]any
}

type fakeActivity struct {
	mu      sync.Mutex
	entries []recordedActivity
}

func (a *fakeActivity) LogActivity(_ context.Context, userID, action string, details map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, recordedActivity{userID, action, details})
	return nil
}

func (a *fakeActivity) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

type fixture struct {
	clock     *clock.FakeClock
	store     *store.MemoryStore
	hub       *fakeHub
	activity  *fakeActivity
	devices   *DeviceManager
	router    *BroadcastRouter
	timers    *TimerEngine
	emergency *EmergencyController
	sweeper   *LivenessSweeper
}

var testStart = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clock.Fake(testStart),
		store:    store.NewMemoryStore(),
		hub:      newFakeHub(),
		activity: &fakeActivity{},
	}
	cfg := config.Default()
	cfg.Fallback.Enabled = false

	f.devices = NewDeviceManager(f.store, f.clock, f.activity)
	f.router = NewBroadcastRouter(f.hub, f.devices, cfg.Fallback, f.clock)
	f.devices.SetRouter(f.router)
	f.timers = NewTimerEngine(f.clock, f.router)
	f.emergency = NewEmergencyController(f.timers, f.router, f.activity, f.clock)
	f.devices.SetEmergency(f.emergency)
	f.timers.SetEmergency(f.emergency)
	f.sweeper = NewLivenessSweeper(f.devices, f.clock, cfg.Liveness, NewHubNotifier(f.router), f.activity)
	return f
}

func (f *fixture) register(t *testing.T, mac string, owner *string) *models.Device {
	t.Helper()
	d, err := f.devices.Register(context.Background(), models.RegisterRequest{
		HardwareAddr: mac,
		Hostname:     "tv-" + mac[len(mac)-2:],
		IP:           "10.0.0.5",
		CurrentView:  "bracket",
		OwnerID:      owner,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", mac, err)
	}
	return d
}

func strPtr(s string) *string { return &s }
