package models

import "time"

// EmergencyState is the platform-wide freeze switch.
type EmergencyState struct {
	Active        bool      `json:"active"`
	ActivatedAt   time.Time `json:"activatedAt,omitempty"`
	ActivatedBy   string    `json:"activatedBy,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	DeactivatedAt time.Time `json:"deactivatedAt,omitempty"`
	DeactivatedBy string    `json:"deactivatedBy,omitempty"`
}

type EmergencyResult struct {
	AlreadyActive   bool           `json:"alreadyActive,omitempty"`
	AlreadyInactive bool           `json:"alreadyInactive,omitempty"`
	TimersCancelled int            `json:"timersCancelled"`
	State           EmergencyState `json:"state"`
}

type EmergencyRequest struct {
	Reason string `json:"reason"`
}
