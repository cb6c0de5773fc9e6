package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"displayfleet/models"
)

// deviceRow is the devices table. The pending command is flattened into
// nullable columns so the single-slot invariant holds at the schema level.
type deviceRow struct {
	ID                 string  `gorm:"primaryKey"`
	Hostname           string
	IP                 string
	ExternalIP         string
	OwnerUserID        *string `gorm:"index"`
	AssignedView       string
	CurrentView        string
	Status             string `gorm:"index"`
	TransitioningSince *time.Time
	LastHeartbeatAt    time.Time
	UptimeSeconds      int64
	SystemInfo         datatypes.JSONMap
	DebugMode          bool
	DebugLogs          datatypes.JSON
	PendingAction      *string
	PendingQueuedAt    *time.Time
	PendingQueuedBy    *string
	DisplayScaleFactor float64
	CDPEnabled         bool
	DisplayInfo        datatypes.JSONMap
	RegisteredAt       time.Time
	UpdatedAt          time.Time `gorm:"autoUpdateTime:false"`
}

func (deviceRow) TableName() string { return "devices" }

// SQLiteStore keeps devices in SQLite through GORM.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore migrates the devices table and returns the store.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&deviceRow{}); err != nil {
		return nil, fmt.Errorf("migrate devices: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveDevice(ctx context.Context, d *models.Device) error {
	row, err := toRow(d)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("save device %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadDevices(ctx context.Context) ([]*models.Device, error) {
	var rows []deviceRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}
	out := make([]*models.Device, 0, len(rows))
	for i := range rows {
		d, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func toRow(d *models.Device) (*deviceRow, error) {
	row := &deviceRow{
		ID:                 d.ID,
		Hostname:           d.Hostname,
		IP:                 d.IP,
		ExternalIP:         d.ExternalIP,
		OwnerUserID:        d.OwnerUserID,
		AssignedView:       d.AssignedView,
		CurrentView:        d.CurrentView,
		Status:             string(d.Status),
		LastHeartbeatAt:    d.LastHeartbeatAt,
		UptimeSeconds:      d.UptimeSeconds,
		SystemInfo:         datatypes.JSONMap(d.SystemInfo),
		DebugMode:          d.DebugMode,
		DisplayScaleFactor: d.DisplayScaleFactor,
		CDPEnabled:         d.CDPEnabled,
		DisplayInfo:        datatypes.JSONMap(d.DisplayInfo),
		RegisteredAt:       d.RegisteredAt,
		UpdatedAt:          d.UpdatedAt,
	}
	if !d.TransitioningSince.IsZero() {
		since := d.TransitioningSince
		row.TransitioningSince = &since
	}
	if len(d.DebugLogs) > 0 {
		b, err := json.Marshal(d.DebugLogs)
		if err != nil {
			return nil, fmt.Errorf("encode debug logs for %s: %w", d.ID, err)
		}
		row.DebugLogs = datatypes.JSON(b)
	}
	if cmd := d.PendingCommand; cmd != nil {
		action := string(cmd.Action)
		queuedAt := cmd.QueuedAt
		queuedBy := cmd.QueuedBy
		row.PendingAction = &action
		row.PendingQueuedAt = &queuedAt
		row.PendingQueuedBy = &queuedBy
	}
	return row, nil
}

func fromRow(row *deviceRow) (*models.Device, error) {
	d := &models.Device{
		ID:                 row.ID,
		Hostname:           row.Hostname,
		IP:                 row.IP,
		ExternalIP:         row.ExternalIP,
		OwnerUserID:        row.OwnerUserID,
		AssignedView:       row.AssignedView,
		CurrentView:        row.CurrentView,
		Status:             models.DeviceStatus(row.Status),
		LastHeartbeatAt:    row.LastHeartbeatAt,
		UptimeSeconds:      row.UptimeSeconds,
		SystemInfo:         models.Telemetry(row.SystemInfo),
		DebugMode:          row.DebugMode,
		DisplayScaleFactor: row.DisplayScaleFactor,
		CDPEnabled:         row.CDPEnabled,
		DisplayInfo:        models.Telemetry(row.DisplayInfo),
		RegisteredAt:       row.RegisteredAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if row.TransitioningSince != nil {
		d.TransitioningSince = *row.TransitioningSince
	}
	if len(row.DebugLogs) > 0 {
		if err := json.Unmarshal(row.DebugLogs, &d.DebugLogs); err != nil {
			return nil, fmt.Errorf("decode debug logs for %s: %w", row.ID, err)
		}
	}
	if row.PendingAction != nil {
		cmd := &models.PendingCommand{Action: models.CommandAction(*row.PendingAction)}
		if row.PendingQueuedAt != nil {
			cmd.QueuedAt = *row.PendingQueuedAt
		}
		if row.PendingQueuedBy != nil {
			cmd.QueuedBy = *row.PendingQueuedBy
		}
		d.PendingCommand = cmd
	}
	return d, nil
}
