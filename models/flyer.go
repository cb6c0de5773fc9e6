package models

import "time"

type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
)

type Playlist struct {
	Enabled      bool     `json:"enabled"`
	Loop         bool     `json:"loop"`
	AutoAdvance  bool     `json:"autoAdvance"`
	Items        []string `json:"items"`
	CurrentIndex int      `json:"currentIndex"`
}

// FlyerPlaybackState is tracked per tenant. The flyer device is the
// authority for CurrentTime and Duration; admins own playback intent.
type FlyerPlaybackState struct {
	PlaybackState PlaybackState `json:"playbackState"`
	CurrentFlyer  string        `json:"currentFlyer"`
	CurrentTime   float64       `json:"currentTime"`
	Duration      float64       `json:"duration"`
	IsMuted       bool          `json:"isMuted"`
	CurrentVolume int           `json:"currentVolume"`
	Playlist      Playlist      `json:"playlist"`
	Settings      Telemetry     `json:"settings,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (s FlyerPlaybackState) Clone() FlyerPlaybackState {
	out := s
	out.Playlist.Items = append([]string(nil), s.Playlist.Items...)
	out.Settings = s.Settings.Clone()
	return out
}

type FlyerControlRequest struct {
	Action string  `json:"action" binding:"required,oneof=play pause next previous seek select"`
	Flyer  string  `json:"flyer"`
	Time   float64 `json:"time"`
}

type FlyerVolumeRequest struct {
	Volume *int  `json:"volume" binding:"omitempty,min=0,max=100"`
	Muted  *bool `json:"muted"`
}

type FlyerSettingsRequest struct {
	Settings Telemetry `json:"settings" binding:"required"`
}

type FlyerPlaylistRequest struct {
	Enabled     bool     `json:"enabled"`
	Loop        bool     `json:"loop"`
	AutoAdvance bool     `json:"autoAdvance"`
	Items       []string `json:"items"`
}

// FlyerStatusReport is pushed by the flyer device itself.
type FlyerStatusReport struct {
	DisplayID     string        `json:"displayId" binding:"required"`
	PlaybackState PlaybackState `json:"playbackState"`
	CurrentFlyer  string        `json:"currentFlyer"`
	CurrentTime   float64       `json:"currentTime"`
	Duration      float64       `json:"duration"`
	CurrentIndex  *int          `json:"currentIndex"`
}
