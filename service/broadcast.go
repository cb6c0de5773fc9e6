package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"

	"displayfleet/clock"
	"displayfleet/config"
	"displayfleet/models"
)

// Publisher is the push transport (the websocket hub). It lives in the
// api package; the interface keeps service free of an import cycle.
type Publisher interface {
	PublishToChannel(channel string, evt models.Event) (Receipt, error)
	PublishToAll(evt models.Event) (Receipt, error)
	PublishToDisplay(deviceID string, evt models.Event) (Receipt, error)
}

// Receipt describes who a push reached.
type Receipt struct {
	Clients  int
	Displays []string // device ids of reached clients that identified themselves
}

func (r Receipt) reached(deviceID string) bool {
	for _, id := range r.Displays {
		if id == deviceID {
			return true
		}
	}
	return false
}

// TenantChannel names the push channel of one owner.
func TenantChannel(ownerID string) string {
	return "tenant:" + ownerID
}

type DeliveryPath string

const (
	DeliveredPush     DeliveryPath = "push"
	DeliveredFallback DeliveryPath = "fallback"
	DeliveredNextPoll DeliveryPath = "next_poll" // device converges on its next config poll
)

type DeliveryResult struct {
	DeviceID string       `json:"deviceId"`
	Path     DeliveryPath `json:"path"`
	Err      error        `json:"-"`
}

type DeliveryReport struct {
	Event       string           `json:"event"`
	PushClients int              `json:"pushClients"`
	PushErr     error            `json:"-"`
	Results     []DeliveryResult `json:"results"`
}

// Delivered counts devices reached by push or fallback.
func (r DeliveryReport) Delivered() int {
	n := 0
	for _, res := range r.Results {
		if res.Path != DeliveredNextPoll {
			n++
		}
	}
	return n
}

// DeviceLister returns the devices an owner's broadcast targets; nil
// owner means every device.
type DeviceLister interface {
	DevicesForOwner(owner *string) []*models.Device
}

// BroadcastRouter fans events out over the push channel and falls back
// to a direct HTTP POST for displays the push did not reach.
type BroadcastRouter struct {
	pub     Publisher
	devices DeviceLister
	cfg     config.FallbackConfig
	client  *http.Client
	clock   clock.Clock
}

func NewBroadcastRouter(pub Publisher, devices DeviceLister, cfg config.FallbackConfig, clk clock.Clock) *BroadcastRouter {
	return &BroadcastRouter{
		pub:     pub,
		devices: devices,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		clock:   clk,
	}
}

func (r *BroadcastRouter) envelope(event string, data any) models.Event {
	return models.Event{Event: event, Data: data, Timestamp: r.clock.Now()}
}

// Publish pushes an event to the owner's channel, or to every client
// when owner is nil.
func (r *BroadcastRouter) Publish(ctx context.Context, owner *string, event string, data any) (Receipt, error) {
	return r.publish(owner, r.envelope(event, data))
}

func (r *BroadcastRouter) publish(owner *string, evt models.Event) (Receipt, error) {
	var (
		receipt Receipt
		err     error
	)
	if owner == nil {
		receipt, err = r.pub.PublishToAll(evt)
	} else {
		receipt, err = r.pub.PublishToChannel(TenantChannel(*owner), evt)
	}
	if err != nil && !errors.Is(err, ErrUnavailable) {
		err = fmt.Errorf("%w: push %s: %v", ErrUnavailable, evt.Event, err)
	}
	return receipt, err
}

// Dispatch pushes the event and then POSTs it to every target display
// the push missed. Fallback failures are logged and reported as
// next_poll; they never fail the call.
func (r *BroadcastRouter) Dispatch(ctx context.Context, owner *string, event string, data any) DeliveryReport {
	evt := r.envelope(event, data)
	receipt, err := r.publish(owner, evt)
	report := DeliveryReport{Event: event, PushClients: receipt.Clients, PushErr: err}
	if err != nil {
		log.Printf("⚠️  push %s failed: %v", event, err)
	}

	targets := r.devices.DevicesForOwner(owner)
	report.Results = make([]DeliveryResult, len(targets))

	var wg sync.WaitGroup
	for i, d := range targets {
		if err == nil && receipt.reached(d.ID) {
			report.Results[i] = DeliveryResult{DeviceID: d.ID, Path: DeliveredPush}
			continue
		}
		wg.Add(1)
		go func(i int, d *models.Device) {
			defer wg.Done()
			report.Results[i] = r.fallback(ctx, d, evt)
		}(i, d)
	}
	wg.Wait()
	return report
}

// DispatchToDevice delivers one event to one display.
func (r *BroadcastRouter) DispatchToDevice(ctx context.Context, d *models.Device, event string, data any) DeliveryResult {
	evt := r.envelope(event, data)
	receipt, err := r.pub.PublishToDisplay(d.ID, evt)
	if err != nil {
		log.Printf("⚠️  push %s to %s failed: %v", event, d.ID, err)
	} else if receipt.reached(d.ID) {
		return DeliveryResult{DeviceID: d.ID, Path: DeliveredPush}
	}
	return r.fallback(ctx, d, evt)
}

func (r *BroadcastRouter) fallback(ctx context.Context, d *models.Device, evt models.Event) DeliveryResult {
	res := DeliveryResult{DeviceID: d.ID, Path: DeliveredNextPoll}
	if !r.cfg.Enabled || d.IP == "" || d.Status == models.StatusOffline {
		return res
	}
	if err := r.post(ctx, d.IP, evt); err != nil {
		log.Printf("fallback %s -> %s (%s) failed: %v", evt.Event, d.ID, d.IP, err)
		res.Err = err
		return res
	}
	res.Path = DeliveredFallback
	return res
}

func (r *BroadcastRouter) post(ctx context.Context, ip string, evt models.Event) error {
	body, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{evt.Event, evt.Data})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	url := "http://" + net.JoinHostPort(ip, strconv.Itoa(r.cfg.Port)) + r.cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("display answered %s", resp.Status)
	}
	return nil
}

// HubNotifier delivers push notifications as "notification" events on
// the target user's channel.
type HubNotifier struct {
	router *BroadcastRouter
}

func NewHubNotifier(router *BroadcastRouter) *HubNotifier {
	return &HubNotifier{router: router}
}

func (n *HubNotifier) Notify(ctx context.Context, kind string, payload map[string]any, targetUserID *string) error {
	_, err := n.router.Publish(ctx, targetUserID, models.EventNotification, map[string]any{
		"type":    kind,
		"payload": payload,
	})
	return err
}
