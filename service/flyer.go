package service

import (
	"context"
	"fmt"
	"log"
	"sync"

	"displayfleet/clock"
	"displayfleet/models"
)

const defaultFlyerVolume = 50

// FlyerService tracks video-flyer playback per tenant. Admins own the
// playback intent; the flyer display owns position and duration.
type FlyerService struct {
	clock  clock.Clock
	router *BroadcastRouter
	locks  KeyedMutex

	mu     sync.RWMutex
	states map[string]models.FlyerPlaybackState
}

func NewFlyerService(clk clock.Clock, router *BroadcastRouter) *FlyerService {
	return &FlyerService{clock: clk, router: router, states: make(map[string]models.FlyerPlaybackState)}
}

func (s *FlyerService) get(tenant string) models.FlyerPlaybackState {
	s.mu.RLock()
	st, ok := s.states[tenant]
	s.mu.RUnlock()
	if !ok {
		return models.FlyerPlaybackState{
			PlaybackState: models.PlaybackPaused,
			CurrentVolume: defaultFlyerVolume,
			Playlist:      models.Playlist{Items: []string{}},
		}
	}
	return st.Clone()
}

func (s *FlyerService) put(tenant string, st *models.FlyerPlaybackState) {
	st.UpdatedAt = s.clock.Now()
	s.mu.Lock()
	s.states[tenant] = st.Clone()
	s.mu.Unlock()
}

// State returns the caller's playback state.
func (s *FlyerService) State(p Principal) models.FlyerPlaybackState {
	return s.get(p.Tenant())
}

// mutate applies fn to the tenant's state under its lock and broadcasts
// event with the payload fn returns.
func (s *FlyerService) mutate(ctx context.Context, p Principal, event string, fn func(st *models.FlyerPlaybackState) (map[string]any, error)) (models.FlyerPlaybackState, error) {
	tenant := p.Tenant()
	unlock := s.locks.Lock(tenant)
	defer unlock()

	st := s.get(tenant)
	payload, err := fn(&st)
	if err != nil {
		return models.FlyerPlaybackState{}, err
	}
	s.put(tenant, &st)
	payload["state"] = st

	if s.router != nil {
		s.router.Dispatch(ctx, p.Owner(), event, payload)
	}
	return st, nil
}

func (s *FlyerService) Control(ctx context.Context, p Principal, req models.FlyerControlRequest) (models.FlyerPlaybackState, error) {
	return s.mutate(ctx, p, models.EventFlyerControl, func(st *models.FlyerPlaybackState) (map[string]any, error) {
		payload := map[string]any{"action": req.Action}
		switch req.Action {
		case "play":
			st.PlaybackState = models.PlaybackPlaying
		case "pause":
			st.PlaybackState = models.PlaybackPaused
		case "next", "previous":
			items := st.Playlist.Items
			if len(items) == 0 {
				return nil, fmt.Errorf("%w: playlist is empty", ErrValidation)
			}
			step := 1
			if req.Action == "previous" {
				step = -1
			}
			idx := st.Playlist.CurrentIndex + step
			switch {
			case idx >= len(items) && st.Playlist.Loop:
				idx = 0
			case idx < 0 && st.Playlist.Loop:
				idx = len(items) - 1
			case idx >= len(items):
				idx = len(items) - 1
			case idx < 0:
				idx = 0
			}
			st.Playlist.CurrentIndex = idx
			st.CurrentFlyer = items[idx]
			st.CurrentTime = 0
			payload["flyer"] = st.CurrentFlyer
		case "seek":
			if req.Time < 0 {
				return nil, fmt.Errorf("%w: seek time must not be negative", ErrValidation)
			}
			st.CurrentTime = req.Time
			payload["time"] = req.Time
		case "select":
			if req.Flyer == "" {
				return nil, fmt.Errorf("%w: flyer is required for select", ErrValidation)
			}
			st.CurrentFlyer = req.Flyer
			st.CurrentTime = 0
			for i, item := range st.Playlist.Items {
				if item == req.Flyer {
					st.Playlist.CurrentIndex = i
					break
				}
			}
			payload["flyer"] = req.Flyer
		default:
			return nil, fmt.Errorf("%w: unknown flyer action %q", ErrValidation, req.Action)
		}
		return payload, nil
	})
}

func (s *FlyerService) Volume(ctx context.Context, p Principal, req models.FlyerVolumeRequest) (models.FlyerPlaybackState, error) {
	if req.Volume == nil && req.Muted == nil {
		return models.FlyerPlaybackState{}, fmt.Errorf("%w: volume or muted is required", ErrValidation)
	}
	if req.Volume != nil && (*req.Volume < 0 || *req.Volume > 100) {
		return models.FlyerPlaybackState{}, fmt.Errorf("%w: volume must be 0-100", ErrValidation)
	}
	return s.mutate(ctx, p, models.EventFlyerVolume, func(st *models.FlyerPlaybackState) (map[string]any, error) {
		if req.Volume != nil {
			st.CurrentVolume = *req.Volume
		}
		if req.Muted != nil {
			st.IsMuted = *req.Muted
		}
		return map[string]any{"volume": st.CurrentVolume, "muted": st.IsMuted}, nil
	})
}

func (s *FlyerService) Settings(ctx context.Context, p Principal, req models.FlyerSettingsRequest) (models.FlyerPlaybackState, error) {
	if len(req.Settings) == 0 {
		return models.FlyerPlaybackState{}, fmt.Errorf("%w: settings are required", ErrValidation)
	}
	return s.mutate(ctx, p, models.EventFlyerSettings, func(st *models.FlyerPlaybackState) (map[string]any, error) {
		st.Settings = st.Settings.Merge(req.Settings.Clone())
		return map[string]any{"settings": st.Settings.Clone()}, nil
	})
}

func (s *FlyerService) Playlist(ctx context.Context, p Principal, req models.FlyerPlaylistRequest) (models.FlyerPlaybackState, error) {
	return s.mutate(ctx, p, models.EventFlyerPlaylist, func(st *models.FlyerPlaybackState) (map[string]any, error) {
		items := append([]string{}, req.Items...)
		idx := 0
		for i, item := range items {
			if item == st.CurrentFlyer {
				idx = i
				break
			}
		}
		st.Playlist = models.Playlist{
			Enabled:      req.Enabled,
			Loop:         req.Loop,
			AutoAdvance:  req.AutoAdvance,
			Items:        items,
			CurrentIndex: idx,
		}
		return map[string]any{"playlist": st.Playlist}, nil
	})
}

// ReportStatus records what the flyer display is actually doing and
// relays it to dashboards on the owner's channel. Push only: the report
// came from the display itself.
func (s *FlyerService) ReportStatus(ctx context.Context, owner *string, rep models.FlyerStatusReport) (models.FlyerPlaybackState, error) {
	if rep.CurrentTime < 0 || rep.Duration < 0 {
		return models.FlyerPlaybackState{}, fmt.Errorf("%w: negative playback position", ErrValidation)
	}
	tenant := models.GlobalTenant
	if owner != nil {
		tenant = *owner
	}
	unlock := s.locks.Lock(tenant)
	defer unlock()

	st := s.get(tenant)
	st.CurrentTime = rep.CurrentTime
	st.Duration = rep.Duration
	if rep.CurrentFlyer != "" {
		st.CurrentFlyer = rep.CurrentFlyer
	}
	if rep.CurrentIndex != nil && *rep.CurrentIndex >= 0 && *rep.CurrentIndex < len(st.Playlist.Items) {
		st.Playlist.CurrentIndex = *rep.CurrentIndex
	}
	s.put(tenant, &st)

	if s.router != nil {
		_, err := s.router.Publish(ctx, owner, models.EventFlyerStatus, map[string]any{
			"displayId":     rep.DisplayID,
			"playbackState": rep.PlaybackState,
			"state":         st,
		})
		if err != nil {
			log.Printf("flyer status from %s not relayed: %v", rep.DisplayID, err)
		}
	}
	return st, nil
}
