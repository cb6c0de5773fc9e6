package models

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

type DeviceStatus string

const (
	StatusOnline        DeviceStatus = "online"
	StatusOffline       DeviceStatus = "offline"
	StatusTransitioning DeviceStatus = "transitioning"
)

// MaxDebugLogEntries bounds the per-device debug log ring.
const MaxDebugLogEntries = 500

var ErrInvalidHardwareAddr = errors.New("hardware address must be 12 hex digits")

// Device is a physical display unit as seen by the controller.
type Device struct {
	ID                 string          `json:"id"`
	Hostname           string          `json:"hostname"`
	IP                 string          `json:"ip"`
	ExternalIP         string          `json:"externalIp,omitempty"`
	OwnerUserID        *string         `json:"ownerUserId"`
	AssignedView       string          `json:"assignedView"`
	CurrentView        string          `json:"currentView"`
	Status             DeviceStatus    `json:"status"`
	TransitioningSince time.Time       `json:"transitioningSince,omitempty"`
	LastHeartbeatAt    time.Time       `json:"lastHeartbeatAt"`
	UptimeSeconds      int64           `json:"uptimeSeconds"`
	SystemInfo         Telemetry       `json:"systemInfo"`
	DebugMode          bool            `json:"debugMode"`
	DebugLogs          []DebugLogEntry `json:"-"`
	PendingCommand     *PendingCommand `json:"pendingCommand"`
	DisplayScaleFactor float64         `json:"displayScaleFactor"`
	CDPEnabled         bool            `json:"cdpEnabled"`
	DisplayInfo        Telemetry       `json:"displayInfo"`
	RegisteredAt       time.Time       `json:"registeredAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share mutable state with the registry.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	out := *d
	if d.OwnerUserID != nil {
		owner := *d.OwnerUserID
		out.OwnerUserID = &owner
	}
	if d.PendingCommand != nil {
		cmd := *d.PendingCommand
		out.PendingCommand = &cmd
	}
	out.SystemInfo = d.SystemInfo.Clone()
	out.DisplayInfo = d.DisplayInfo.Clone()
	if d.DebugLogs != nil {
		out.DebugLogs = make([]DebugLogEntry, len(d.DebugLogs))
		copy(out.DebugLogs, d.DebugLogs)
	}
	return &out
}

// Owner returns the owner id or "" for legacy unowned devices.
func (d *Device) Owner() string {
	if d.OwnerUserID == nil {
		return ""
	}
	return *d.OwnerUserID
}

// ShouldRestart reports whether the view a human assigned differs from
// the view the device last reported running.
func (d *Device) ShouldRestart() bool {
	return d.AssignedView != "" && d.AssignedView != d.CurrentView
}

// NormalizeHardwareAddr lower-cases the address and strips ':', '-' and
// '.' separators. The result must be exactly 12 hex digits.
func NormalizeHardwareAddr(addr string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(addr)) {
		switch r {
		case ':', '-', '.':
			continue
		}
		b.WriteRune(r)
	}
	normalized := b.String()
	if len(normalized) != 12 {
		return "", ErrInvalidHardwareAddr
	}
	if _, err := hex.DecodeString(normalized); err != nil {
		return "", ErrInvalidHardwareAddr
	}
	return normalized, nil
}

// DeriveDeviceID maps a hardware address to its device id. The mapping is
// deterministic and one-way: the id is a truncated BLAKE3 digest of the
// normalized address.
func DeriveDeviceID(addr string) (string, error) {
	normalized, err := NormalizeHardwareAddr(addr)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8]), nil
}

// DebugLogEntry is one line pushed by a device while in debug mode.
type DebugLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// AppendDebugLogs appends entries and keeps only the newest limit of them.
func AppendDebugLogs(buf []DebugLogEntry, entries []DebugLogEntry, limit int) []DebugLogEntry {
	buf = append(buf, entries...)
	if len(buf) > limit {
		trimmed := make([]DebugLogEntry, limit)
		copy(trimmed, buf[len(buf)-limit:])
		buf = trimmed
	}
	return buf
}

// DeviceConfig is what a device receives when it polls for configuration.
type DeviceConfig struct {
	AssignedView   string          `json:"assignedView"`
	ShouldRestart  bool            `json:"shouldRestart"`
	PendingCommand *PendingCommand `json:"pendingCommand"`
	DebugMode      bool            `json:"debugMode"`
	ScaleFactor    float64         `json:"scaleFactor"`
	DisplayInfo    Telemetry       `json:"displayInfo"`
	Emergency      bool            `json:"emergency"`
}
