package models

import "time"

type CommandAction string

const (
	CommandReboot   CommandAction = "reboot"
	CommandShutdown CommandAction = "shutdown"
	CommandDebugOn  CommandAction = "debug_on"
	CommandDebugOff CommandAction = "debug_off"
	CommandRefresh  CommandAction = "refresh"
)

func (a CommandAction) Valid() bool {
	switch a {
	case CommandReboot, CommandShutdown, CommandDebugOn, CommandDebugOff, CommandRefresh:
		return true
	}
	return false
}

// PendingCommand is the single queued administrative action awaiting
// pickup by the device's next config poll.
type PendingCommand struct {
	Action   CommandAction `json:"action"`
	QueuedAt time.Time     `json:"queuedAt"`
	QueuedBy string        `json:"queuedBy"`
}

type CommandRequest struct {
	Action CommandAction `json:"action" binding:"required,oneof=reboot shutdown debug_on debug_off refresh"`
}
