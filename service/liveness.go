package service

import (
	"context"
	"log"
	"time"

	"displayfleet/clock"
	"displayfleet/config"
	"displayfleet/models"
)

// LivenessSweeper marks displays offline when their heartbeats stop.
// Offline to online happens in Register/Heartbeat, never here.
type LivenessSweeper struct {
	devices  *DeviceManager
	clock    clock.Clock
	cfg      config.LivenessConfig
	notifier Notifier
	activity ActivityLogger
}

func NewLivenessSweeper(dm *DeviceManager, clk clock.Clock, cfg config.LivenessConfig, notifier Notifier, activity ActivityLogger) *LivenessSweeper {
	return &LivenessSweeper{devices: dm, clock: clk, cfg: cfg, notifier: notifier, activity: activity}
}

// Run sweeps every SweepInterval until ctx is done.
func (s *LivenessSweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	log.Printf("Liveness sweeper started (interval %s, offline after %s)", s.cfg.SweepInterval, s.cfg.OfflineAfter)
	for {
		select {
		case <-ctx.Done():
			log.Println("Liveness sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the ids of displays it marked offline.
func (s *LivenessSweeper) Sweep(ctx context.Context) []string {
	var offline []string
	for _, id := range s.devices.ids() {
		d, changed, err := s.expire(ctx, id)
		if err != nil {
			log.Printf("⚠️  sweep %s: %v", id, err)
			continue
		}
		if !changed {
			continue
		}
		offline = append(offline, id)
		log.Printf("📴 Display offline: %s (last heartbeat %s)", id, d.LastHeartbeatAt.Format(time.RFC3339))

		readings := models.Readings(d.SystemInfo, d.DisplayInfo)
		logActivity(ctx, s.activity, d.Owner(), "display_offline", map[string]any{
			"displayId": id, "hostname": d.Hostname, "lastReadings": readings,
		})
		if s.notifier != nil {
			err := s.notifier.Notify(ctx, "display_offline", map[string]any{
				"displayId": id, "hostname": d.Hostname, "lastHeartbeatAt": d.LastHeartbeatAt,
				"lastReadings": readings,
			}, d.OwnerUserID)
			if err != nil {
				log.Printf("offline notification for %s failed: %v", id, err)
			}
		}
		s.devices.publish(ctx, d.OwnerUserID, models.EventDisplayOffline, d)
	}
	return offline
}

// stale decides whether a display has missed its heartbeats. A
// transitioning display gets one sweep interval of grace from the moment
// it started transitioning.
func (s *LivenessSweeper) stale(d *models.Device, now time.Time) bool {
	switch d.Status {
	case models.StatusOffline:
		return false
	case models.StatusTransitioning:
		if now.Sub(d.TransitioningSince) < s.cfg.SweepInterval {
			return false
		}
	}
	return now.Sub(d.LastHeartbeatAt) > s.cfg.OfflineAfter
}

func (s *LivenessSweeper) expire(ctx context.Context, id string) (*models.Device, bool, error) {
	var changed bool
	d, err := s.devices.update(ctx, id, func(d *models.Device) error {
		if !s.stale(d, s.clock.Now()) {
			return errNoChange
		}
		d.Status = models.StatusOffline
		d.TransitioningSince = time.Time{}
		changed = true
		return nil
	})
	return d, changed, err
}
