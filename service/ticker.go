package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"displayfleet/models"
)

const maxTickerMessage = 280

// SendTicker scrolls a short message across the caller's displays.
func (r *BroadcastRouter) SendTicker(ctx context.Context, p Principal, req models.TickerRequest) (DeliveryReport, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return DeliveryReport{}, fmt.Errorf("%w: message is required", ErrValidation)
	}
	if utf8.RuneCountInString(msg) > maxTickerMessage {
		return DeliveryReport{}, fmt.Errorf("%w: message longer than %d characters", ErrValidation, maxTickerMessage)
	}
	duration := req.Duration
	if duration == 0 {
		duration = models.DefaultTickerSeconds
	}
	if duration < 1 || duration > 120 {
		return DeliveryReport{}, fmt.Errorf("%w: duration must be 1-120 seconds", ErrValidation)
	}

	report := r.Dispatch(ctx, p.Owner(), models.EventTickerMessage, map[string]any{
		"message":  msg,
		"duration": duration,
	})
	if report.PushErr != nil && report.Delivered() == 0 {
		return report, report.PushErr
	}
	log.Printf("📣 Ticker from %s: %q (%ds)", p.Actor(), msg, duration)
	return report, nil
}
