package models

import "time"

// Real-time event names pushed over the websocket channel.
const (
	EventEmergencyActivated   = "emergency:activated"
	EventEmergencyDeactivated = "emergency:deactivated"
	EventTimerStart           = "timer:start"
	EventTimerHide            = "timer:hide"
	EventDisplayRegistered    = "display:registered"
	EventDisplayUpdated       = "display:updated"
	EventDisplayOffline       = "display:offline"
	EventDisplayScale         = "display:scale"
	EventTickerMessage        = "ticker:message"
	EventFlyerControl         = "flyer:control"
	EventFlyerVolume          = "flyer:volume"
	EventFlyerSettings        = "flyer:settings"
	EventFlyerPlaylist        = "flyer:playlist"
	EventFlyerStatus          = "flyer:status"
	EventNotification         = "notification"
)

// Event is the envelope written to websocket clients and posted to
// device fallback endpoints.
type Event struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type TickerRequest struct {
	Message  string `json:"message" binding:"required"`
	Duration int    `json:"duration" binding:"omitempty,min=1,max=120"`
}

// Ticker defaults, matching the stream deck's quick-action messages.
const DefaultTickerSeconds = 5
