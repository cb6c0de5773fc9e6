package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"displayfleet/config"
	"displayfleet/models"
)

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.register(t, "AA:BB:CC:DD:EE:30", strPtr("tenant-x"))
	y := f.register(t, "AA:BB:CC:DD:EE:31", strPtr("tenant-y"))
	f.hub.connect(TenantChannel("tenant-x"), x.ID)
	f.hub.connect(TenantChannel("tenant-y"), y.ID)

	report := f.router.Dispatch(ctx, x.OwnerUserID, models.EventTickerMessage, map[string]any{"message": "hi"})

	if len(report.Results) != 1 || report.Results[0].DeviceID != x.ID || report.Results[0].Path != DeliveredPush {
		t.Fatalf("unexpected delivery report %+v", report)
	}
	for _, s := range f.hub.events(models.EventTickerMessage) {
		if s.Channel != TenantChannel("tenant-x") {
			t.Errorf("tenant-x event leaked to %s", s.Channel)
		}
	}

	receipt, err := f.router.Publish(ctx, y.OwnerUserID, models.EventDisplayUpdated, y)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(receipt.Displays) != 1 || receipt.Displays[0] != y.ID {
		t.Errorf("tenant-y publish reached %v", receipt.Displays)
	}
}

func TestPublishUnavailable(t *testing.T) {
	f := newFixture(t)
	f.hub.down = true
	_, err := f.router.Publish(context.Background(), nil, models.EventTickerMessage, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	_, err = f.router.SendTicker(context.Background(), Principal{IsAdmin: true}, models.TickerRequest{Message: "hello"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("SendTicker with no transport: expected ErrUnavailable, got %v", err)
	}
}

// fallbackServer stands in for the HTTP endpoint a display exposes.
type fallbackServer struct {
	mu       sync.Mutex
	received []models.Event
	status   int
}

func (s *fallbackServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var evt models.Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.received = append(s.received, evt)
	status := s.status
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func newFallbackRouter(t *testing.T, f *fixture, h http.Handler) *BroadcastRouter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("bad listener address: %v", err)
	}
	p, _ := strconv.Atoi(port)
	return NewBroadcastRouter(f.hub, f.devices, config.FallbackConfig{
		Enabled: true,
		Port:    p,
		Path:    "/api/display/event",
		Timeout: time.Second,
	}, f.clock)
}

func TestDispatchFallsBackForUnreachedDisplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := &fallbackServer{}
	router := newFallbackRouter(t, f, srv)

	connected := f.register(t, "AA:BB:CC:DD:EE:32", strPtr("alice"))
	missing := f.register(t, "AA:BB:CC:DD:EE:33", strPtr("alice"))
	f.hub.connect(TenantChannel("alice"), connected.ID)
	if _, err := f.devices.Heartbeat(ctx, missing.ID, models.HeartbeatReport{IP: "127.0.0.1"}); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	report := router.Dispatch(ctx, strPtr("alice"), models.EventEmergencyActivated, map[string]any{"reason": "drill"})
	paths := map[string]DeliveryPath{}
	for _, r := range report.Results {
		paths[r.DeviceID] = r.Path
	}
	if paths[connected.ID] != DeliveredPush {
		t.Errorf("connected display: path %s", paths[connected.ID])
	}
	if paths[missing.ID] != DeliveredFallback {
		t.Errorf("unreached display: path %s", paths[missing.ID])
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.received) != 1 || srv.received[0].Event != models.EventEmergencyActivated {
		t.Errorf("fallback endpoint received %+v", srv.received)
	}
}

func TestDispatchFallbackFailureIsNextPoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	router := newFallbackRouter(t, f, &fallbackServer{status: http.StatusInternalServerError})
	d := f.register(t, "AA:BB:CC:DD:EE:34", nil)
	if _, err := f.devices.Heartbeat(ctx, d.ID, models.HeartbeatReport{IP: "127.0.0.1"}); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	f.hub.down = true

	report := router.Dispatch(ctx, nil, models.EventEmergencyActivated, nil)
	if report.PushErr == nil {
		t.Error("expected push error with the hub down")
	}
	if len(report.Results) != 1 || report.Results[0].Path != DeliveredNextPoll || report.Results[0].Err == nil {
		t.Fatalf("unexpected results %+v", report.Results)
	}
	if report.Delivered() != 0 {
		t.Errorf("Delivered = %d", report.Delivered())
	}
}
