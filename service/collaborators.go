package service

import (
	"context"
	"log"
)

// ActivityLogger persists the audit trail of display operations.
type ActivityLogger interface {
	LogActivity(ctx context.Context, userID, action string, details map[string]any) error
}

// Notifier sends a push notification to a user, or to everyone when
// targetUserID is nil.
type Notifier interface {
	Notify(ctx context.Context, kind string, payload map[string]any, targetUserID *string) error
}

func logActivity(ctx context.Context, a ActivityLogger, userID, action string, details map[string]any) {
	if a == nil {
		return
	}
	if err := a.LogActivity(ctx, userID, action, details); err != nil {
		log.Printf("activity log failed (%s): %v", action, err)
	}
}
