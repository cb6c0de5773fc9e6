package models

import "time"

type TimerKind string

const (
	TimerDQ         TimerKind = "dq"
	TimerTournament TimerKind = "tournament"
)

type TimerState string

const (
	TimerRunning   TimerState = "running"
	TimerCancelled TimerState = "cancelled"
	TimerExpired   TimerState = "expired"
)

// Duration bounds in seconds.
const (
	DQTimerMinSeconds         = 10
	DQTimerMaxSeconds         = 600
	TournamentTimerMinSeconds = 10
	TournamentTimerMaxSeconds = 3600
)

// GlobalTenant names the scope of timers started without a tenant.
const GlobalTenant = "global"

// Timer is an ephemeral countdown. It lives only in controller memory;
// displays run their own local countdown from DurationSeconds.
type Timer struct {
	ID              string     `json:"id"`
	Key             string     `json:"key"`
	Kind            TimerKind  `json:"kind"`
	Tenant          string     `json:"tenant"`
	TV              string     `json:"tv,omitempty"`
	TournamentID    string     `json:"tournamentId,omitempty"`
	MatchID         string     `json:"matchId,omitempty"`
	PlayerName      string     `json:"playerName,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
	StartedAt       time.Time  `json:"startedAt"`
	State           TimerState `json:"state"`
	StartedBy       string     `json:"startedBy"`
}

// ActiveTimer is a running timer with its remaining time at read time.
type ActiveTimer struct {
	Timer
	RemainingSeconds int `json:"remainingSeconds"`
}

func DQTimerKey(tenant, tv string) string {
	return "dq:" + tenant + ":" + tv
}

func TournamentTimerKey(tenant string) string {
	return "tournament:" + tenant
}

type DQTimerRequest struct {
	TV              string `json:"tv" binding:"required"`
	DurationSeconds int    `json:"duration" binding:"required"`
	TournamentID    string `json:"tournamentId"`
	MatchID         string `json:"matchId"`
	PlayerName      string `json:"playerName"`
}

type TournamentTimerRequest struct {
	DurationSeconds int `json:"duration" binding:"required"`
}

type CancelTimerRequest struct {
	Key string `json:"key" binding:"required"`
}
