package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry is one activity log record.
type Entry struct {
	ID        string            `gorm:"primaryKey" json:"id"`
	UserID    string            `gorm:"index" json:"userId"`
	Action    string            `gorm:"index" json:"action"`
	Details   datatypes.JSONMap `json:"details"`
	CreatedAt time.Time         `gorm:"index" json:"createdAt"`
}

func (Entry) TableName() string { return "activity_log" }

type SQLiteLogger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLiteLogger(db *gorm.DB) (*SQLiteLogger, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate activity_log: %w", err)
	}
	return &SQLiteLogger{db: db, now: time.Now}, nil
}

func (l *SQLiteLogger) LogActivity(ctx context.Context, userID, action string, details map[string]any) error {
	entry := Entry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Details:   datatypes.JSONMap(details),
		CreatedAt: l.now().UTC(),
	}
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("insert activity %s: %w", action, err)
	}
	return nil
}

// Recent returns the newest entries first. userID "" lists every user.
func (l *SQLiteLogger) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := l.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var out []Entry
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
