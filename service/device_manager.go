package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"displayfleet/clock"
	"displayfleet/models"
	"displayfleet/store"
)

// DeviceManager is the device registry. Published *models.Device values
// are never mutated: every change is applied to a clone under the
// device's key lock, written through to the store, then swapped in.
type DeviceManager struct {
	devices map[string]*models.Device
	mu      sync.RWMutex // guards the map only
	locks   KeyedMutex

	store    store.DeviceStore
	clock    clock.Clock
	activity ActivityLogger

	router    *BroadcastRouter
	emergency interface{ IsActive() bool }
}

func NewDeviceManager(st store.DeviceStore, clk clock.Clock, activity ActivityLogger) *DeviceManager {
	return &DeviceManager{
		devices:  make(map[string]*models.Device),
		store:    st,
		clock:    clk,
		activity: activity,
	}
}

// SetRouter wires the broadcast router once it exists. The router needs
// the manager as its DeviceLister, so it cannot be a constructor argument.
func (m *DeviceManager) SetRouter(r *BroadcastRouter) { m.router = r }

// SetEmergency makes the config poll report the emergency flag.
func (m *DeviceManager) SetEmergency(e interface{ IsActive() bool }) { m.emergency = e }

// Load fills the registry from the store. Call once before serving.
func (m *DeviceManager) Load(ctx context.Context) error {
	devices, err := m.store.LoadDevices(ctx)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range devices {
		m.devices[d.ID] = d
	}
	log.Printf("Loaded %d displays from store", len(devices))
	return nil
}

func (m *DeviceManager) lookup(id string) *models.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.devices[id]
}

func (m *DeviceManager) commit(ctx context.Context, d *models.Device) error {
	if err := m.store.SaveDevice(ctx, d); err != nil {
		return fmt.Errorf("%w: persist display %s: %v", ErrUnavailable, d.ID, err)
	}
	m.mu.Lock()
	m.devices[d.ID] = d
	m.mu.Unlock()
	return nil
}

// update runs fn on a clone of the device under its key lock. fn may
// return errNoChange to skip persistence. The returned device is a copy
// of the state after the call.
func (m *DeviceManager) update(ctx context.Context, id string, fn func(d *models.Device) error) (*models.Device, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	cur := m.lookup(id)
	if cur == nil {
		return nil, fmt.Errorf("%w: display %s", ErrNotFound, id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errNoChange) {
			return cur.Clone(), nil
		}
		return nil, err
	}
	next.UpdatedAt = m.clock.Now()
	if err := m.commit(ctx, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Register creates or refreshes a display from its self-registration.
func (m *DeviceManager) Register(ctx context.Context, req models.RegisterRequest) (*models.Device, error) {
	id, err := models.DeriveDeviceID(req.HardwareAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	unlock := m.locks.Lock(id)
	now := m.clock.Now()
	cur := m.lookup(id)
	created := cur == nil

	var next *models.Device
	if created {
		next = &models.Device{
			ID:                 id,
			AssignedView:       req.CurrentView,
			DisplayScaleFactor: 1.0,
			RegisteredAt:       now,
		}
	} else {
		next = cur.Clone()
	}
	wasOffline := !created && cur.Status == models.StatusOffline

	if req.Hostname != "" {
		next.Hostname = req.Hostname
	}
	if req.IP != "" {
		next.IP = req.IP
	}
	if req.ExternalIP != "" {
		next.ExternalIP = req.ExternalIP
	}
	if req.CurrentView != "" {
		next.CurrentView = req.CurrentView
	}
	switch {
	case next.OwnerUserID == nil && req.OwnerID != nil:
		owner := *req.OwnerID
		next.OwnerUserID = &owner
	case next.OwnerUserID != nil && req.OwnerID != nil && *req.OwnerID != *next.OwnerUserID:
		log.Printf("⚠️  display %s already owned by %s, ignoring claim by %s", id, *next.OwnerUserID, *req.OwnerID)
	}
	next.Status = models.StatusOnline
	next.TransitioningSince = time.Time{}
	next.LastHeartbeatAt = now
	next.UpdatedAt = now

	err = m.commit(ctx, next)
	unlock()
	if err != nil {
		return nil, err
	}

	switch {
	case created:
		log.Printf("📺 Display registered: %s (%s, %s)", id, next.Hostname, next.IP)
		logActivity(ctx, m.activity, next.Owner(), "display_registered", map[string]any{
			"displayId": id, "hostname": next.Hostname, "ip": next.IP,
		})
	case wasOffline:
		log.Printf("📺 Display back online: %s", id)
		logActivity(ctx, m.activity, next.Owner(), "display_online", map[string]any{"displayId": id})
	}
	m.publish(ctx, next.OwnerUserID, models.EventDisplayRegistered, next)
	return next.Clone(), nil
}

// Heartbeat records a liveness report. An offline display comes back
// online here, synchronously.
func (m *DeviceManager) Heartbeat(ctx context.Context, id string, hb models.HeartbeatReport) (*models.Device, error) {
	var cameOnline bool
	d, err := m.update(ctx, id, func(d *models.Device) error {
		now := m.clock.Now()
		cameOnline = d.Status == models.StatusOffline

		d.LastHeartbeatAt = now
		d.UptimeSeconds = hb.UptimeSeconds
		if hb.IP != "" {
			d.IP = hb.IP
		}
		if hb.CurrentView != "" {
			d.CurrentView = hb.CurrentView
		}
		d.SystemInfo = d.SystemInfo.Merge(hb.SystemInfo)
		d.DisplayInfo = d.DisplayInfo.Merge(hb.DisplayInfo)
		if hb.CDPEnabled != nil {
			d.CDPEnabled = *hb.CDPEnabled
		}

		switch d.Status {
		case models.StatusOffline:
			d.Status = models.StatusOnline
		case models.StatusTransitioning:
			if !d.ShouldRestart() {
				d.Status = models.StatusOnline
				d.TransitioningSince = time.Time{}
			}
		case "":
			d.Status = models.StatusOnline
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cameOnline {
		log.Printf("📺 Display back online: %s", id)
		logActivity(ctx, m.activity, d.Owner(), "display_online", map[string]any{"displayId": id})
		m.publish(ctx, d.OwnerUserID, models.EventDisplayUpdated, d)
	}
	return d, nil
}

// GetConfig answers a display's config poll and drains its pending
// command. Two concurrent polls never both receive the same command.
func (m *DeviceManager) GetConfig(ctx context.Context, id string) (models.DeviceConfig, error) {
	var cfg models.DeviceConfig
	_, err := m.update(ctx, id, func(d *models.Device) error {
		cfg = models.DeviceConfig{
			AssignedView:   d.AssignedView,
			ShouldRestart:  d.ShouldRestart(),
			PendingCommand: d.PendingCommand,
			DebugMode:      d.DebugMode,
			ScaleFactor:    d.DisplayScaleFactor,
			DisplayInfo:    d.DisplayInfo.Clone(),
		}
		if d.PendingCommand == nil {
			return errNoChange
		}
		d.PendingCommand = nil
		return nil
	})
	if err != nil {
		return models.DeviceConfig{}, err
	}
	if m.emergency != nil {
		cfg.Emergency = m.emergency.IsActive()
	}
	if cfg.PendingCommand != nil {
		log.Printf("Display %s picked up command %s", id, cfg.PendingCommand.Action)
	}
	return cfg, nil
}

// SetAssignment changes the assigned view and/or scale factor.
func (m *DeviceManager) SetAssignment(ctx context.Context, p Principal, id string, upd models.AssignmentUpdate) (models.AssignmentResult, error) {
	if upd.AssignedView != nil && strings.TrimSpace(*upd.AssignedView) == "" {
		return models.AssignmentResult{}, fmt.Errorf("%w: assignedView must not be empty", ErrValidation)
	}
	if upd.DisplayScaleFactor != nil {
		if s := *upd.DisplayScaleFactor; s < 0.5 || s > 3.0 || math.IsNaN(s) {
			return models.AssignmentResult{}, fmt.Errorf("%w: displayScaleFactor must be within 0.5-3.0", ErrValidation)
		}
	}

	var res models.AssignmentResult
	var changed bool
	d, err := m.update(ctx, id, func(d *models.Device) error {
		if err := CheckOwnership(p, d); err != nil {
			return err
		}
		viewChanged := upd.AssignedView != nil && *upd.AssignedView != d.AssignedView
		scaleChanged := upd.DisplayScaleFactor != nil && math.Abs(*upd.DisplayScaleFactor-d.DisplayScaleFactor) > 1e-9
		if !viewChanged && !scaleChanged {
			return errNoChange
		}
		changed = true

		res.NeedsRestart = (viewChanged && *upd.AssignedView != d.CurrentView) || (scaleChanged && !d.CDPEnabled)
		res.LiveApply = scaleChanged && d.CDPEnabled

		if viewChanged {
			d.AssignedView = *upd.AssignedView
		}
		if scaleChanged {
			d.DisplayScaleFactor = *upd.DisplayScaleFactor
		}
		if res.NeedsRestart && d.Status != models.StatusOffline {
			d.Status = models.StatusTransitioning
			d.TransitioningSince = m.clock.Now()
		}
		return nil
	})
	if err != nil {
		return models.AssignmentResult{}, err
	}
	res.Device = d
	if !changed {
		return res, nil
	}

	logActivity(ctx, m.activity, p.Actor(), "display_config_updated", map[string]any{
		"displayId": id, "assignedView": d.AssignedView, "scaleFactor": d.DisplayScaleFactor,
		"needsRestart": res.NeedsRestart, "liveApply": res.LiveApply,
	})
	m.publish(ctx, d.OwnerUserID, models.EventDisplayUpdated, d)
	if res.LiveApply && m.router != nil {
		r := m.router.DispatchToDevice(ctx, d, models.EventDisplayScale, map[string]any{
			"displayId": id, "scaleFactor": d.DisplayScaleFactor,
		})
		log.Printf("Scale %.2f for %s delivered via %s", d.DisplayScaleFactor, id, r.Path)
	}
	return res, nil
}

// IssueCommand queues an action for the display's next config poll,
// replacing any command still waiting.
func (m *DeviceManager) IssueCommand(ctx context.Context, p Principal, id string, action models.CommandAction) (models.PendingCommand, error) {
	if !action.Valid() {
		return models.PendingCommand{}, fmt.Errorf("%w: unknown command %q", ErrValidation, action)
	}
	var cmd models.PendingCommand
	d, err := m.update(ctx, id, func(d *models.Device) error {
		if err := CheckOwnership(p, d); err != nil {
			return err
		}
		cmd = models.PendingCommand{Action: action, QueuedAt: m.clock.Now(), QueuedBy: p.Actor()}
		d.PendingCommand = &cmd
		switch action {
		case models.CommandDebugOn:
			d.DebugMode = true
		case models.CommandDebugOff:
			d.DebugMode = false
			d.DebugLogs = nil
		}
		return nil
	})
	if err != nil {
		return models.PendingCommand{}, err
	}
	log.Printf("🎮 Command %s queued for %s by %s", action, id, cmd.QueuedBy)
	logActivity(ctx, m.activity, p.Actor(), "display_command", map[string]any{
		"displayId": id, "action": string(action),
	})
	m.publish(ctx, d.OwnerUserID, models.EventDisplayUpdated, d)
	return cmd, nil
}

// AppendLogs stores debug lines pushed by a display. Outside debug mode
// the call succeeds without storing anything.
func (m *DeviceManager) AppendLogs(ctx context.Context, id string, entries []models.DebugLogEntry) (models.AppendLogsResult, error) {
	var res models.AppendLogsResult
	_, err := m.update(ctx, id, func(d *models.Device) error {
		res.DebugMode = d.DebugMode
		if !d.DebugMode || len(entries) == 0 {
			res.Stored = len(d.DebugLogs)
			return errNoChange
		}
		now := m.clock.Now()
		batch := make([]models.DebugLogEntry, len(entries))
		for i, e := range entries {
			if e.Timestamp.IsZero() {
				e.Timestamp = now
			}
			if e.Level == "" {
				e.Level = "info"
			}
			batch[i] = e
		}
		d.DebugLogs = models.AppendDebugLogs(d.DebugLogs, batch, models.MaxDebugLogEntries)
		res.Accepted = true
		res.Stored = len(d.DebugLogs)
		return nil
	})
	if err != nil {
		return models.AppendLogsResult{}, err
	}
	return res, nil
}

func (m *DeviceManager) ClearLogs(ctx context.Context, p Principal, id string) error {
	_, err := m.update(ctx, id, func(d *models.Device) error {
		if err := CheckOwnership(p, d); err != nil {
			return err
		}
		if len(d.DebugLogs) == 0 {
			return errNoChange
		}
		d.DebugLogs = nil
		return nil
	})
	return err
}

// DebugLogs returns a copy of the stored debug lines, oldest first.
func (m *DeviceManager) DebugLogs(_ context.Context, p Principal, id string) ([]models.DebugLogEntry, error) {
	d, err := m.GetDeviceFor(p, id)
	if err != nil {
		return nil, err
	}
	if d.DebugLogs == nil {
		return []models.DebugLogEntry{}, nil
	}
	return d.DebugLogs, nil
}

// GetDevice returns a copy of a display.
func (m *DeviceManager) GetDevice(id string) (*models.Device, error) {
	d := m.lookup(id)
	if d == nil {
		return nil, fmt.Errorf("%w: display %s", ErrNotFound, id)
	}
	return d.Clone(), nil
}

// GetDeviceFor is GetDevice behind the ownership guard.
func (m *DeviceManager) GetDeviceFor(p Principal, id string) (*models.Device, error) {
	d, err := m.GetDevice(id)
	if err != nil {
		return nil, err
	}
	if err := CheckOwnership(p, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDevices returns every display for admins, otherwise the caller's own.
func (m *DeviceManager) ListDevices(p Principal) []*models.Device {
	if p.IsAdmin {
		return m.DevicesForOwner(nil)
	}
	owner := p.UserID
	return m.DevicesForOwner(&owner)
}

// DevicesForOwner returns copies of the owner's displays, or of every
// display when owner is nil, sorted by id.
func (m *DeviceManager) DevicesForOwner(owner *string) []*models.Device {
	m.mu.RLock()
	out := make([]*models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		if owner != nil && (d.OwnerUserID == nil || *d.OwnerUserID != *owner) {
			continue
		}
		out = append(out, d.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *DeviceManager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *DeviceManager) publish(ctx context.Context, owner *string, event string, d any) {
	if m.router == nil {
		return
	}
	if _, err := m.router.Publish(ctx, owner, event, d); err != nil {
		log.Printf("⚠️  %s not pushed: %v", event, err)
	}
}
