package activity

import (
	"context"
	"log"
)

// StdLogger writes activity to the process log only.
type StdLogger struct{}

func (StdLogger) LogActivity(_ context.Context, userID, action string, details map[string]any) error {
	log.Printf("activity user=%q action=%s details=%v", userID, action, details)
	return nil
}
