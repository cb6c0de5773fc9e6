package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"

	"displayfleet/clock"
	"displayfleet/config"
	"displayfleet/models"
	"displayfleet/service"
	"displayfleet/store"
)

type testServer struct {
	*httptest.Server
	services *Services
	clock    *clock.FakeClock
	cancel   context.CancelFunc
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		t.Fatalf("RegisterValidators failed: %v", err)
	}

	cfg := config.Default()
	cfg.Fallback.Enabled = false
	cfg.RateLimit.DeviceRPS = 0
	cfg.Auth.Tokens = []config.TokenConfig{
		{Token: "alice-token", UserID: "alice"},
		{Token: "bob-token", UserID: "bob"},
		{Token: "ops-token", Admin: true},
	}

	clk := clock.Fake(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC))
	auth := service.NewStaticTokenAuthorizer(cfg.Auth.Tokens)
	devices := service.NewDeviceManager(store.NewMemoryStore(), clk, nil)
	hub := NewWebSocketHub(devices, auth)
	router := service.NewBroadcastRouter(hub, devices, cfg.Fallback, clk)
	devices.SetRouter(router)
	timers := service.NewTimerEngine(clk, router)
	emergency := service.NewEmergencyController(timers, router, nil, clk)
	devices.SetEmergency(emergency)
	timers.SetEmergency(emergency)

	s := &Services{
		Devices:   devices,
		Router:    router,
		Timers:    timers,
		Emergency: emergency,
		Flyers:    service.NewFlyerService(clk, router),
		Auth:      auth,
		Hub:       hub,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	engine := gin.New()
	SetupRoutes(engine, s, cfg.RateLimit)
	srv := httptest.NewServer(engine)
	ts := &testServer{Server: srv, services: s, clock: clk, cancel: cancel}
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return ts
}

type apiResult struct {
	Status int
	Body   models.APIResponse
	Raw    []byte
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) apiResult {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-API-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	res := apiResult{Status: resp.StatusCode, Raw: raw}
	_ = json.Unmarshal(raw, &res.Body)
	return res
}

// data re-decodes the envelope's data field into v.
func (r apiResult) data(t *testing.T, v any) {
	t.Helper()
	b, _ := json.Marshal(r.Body.Data)
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode data %s: %v", b, err)
	}
}

func (ts *testServer) registerDisplay(t *testing.T, mac, token string) models.Device {
	t.Helper()
	res := ts.do(t, http.MethodPost, "/api/displays/register", "", gin.H{
		"mac": mac, "hostname": "tv", "ip": "10.1.1.1", "currentView": "bracket", "registrationToken": token,
	})
	if res.Status != http.StatusOK {
		t.Fatalf("register: status %d body %s", res.Status, res.Raw)
	}
	var d models.Device
	res.data(t, &d)
	return d
}

func TestRegisterValidatesHardwareAddr(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodPost, "/api/displays/register", "", gin.H{"mac": "zz:zz"})
	if res.Status != http.StatusBadRequest {
		t.Fatalf("bad mac: status %d", res.Status)
	}
	d := ts.registerDisplay(t, "AA:BB:CC:DD:EE:FF", "alice-token")
	if d.Owner() != "alice" || d.Status != models.StatusOnline {
		t.Errorf("unexpected display %+v", d)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	if res := ts.do(t, http.MethodGet, "/api/displays", "", nil); res.Status != http.StatusUnauthorized {
		t.Errorf("no token: status %d", res.Status)
	}
	if res := ts.do(t, http.MethodGet, "/api/displays", "wrong", nil); res.Status != http.StatusUnauthorized {
		t.Errorf("bad token: status %d", res.Status)
	}
	if res := ts.do(t, http.MethodGet, "/api/displays", "alice-token", nil); res.Status != http.StatusOK {
		t.Errorf("valid token: status %d", res.Status)
	}
}

func TestCommandFlow(t *testing.T) {
	ts := newTestServer(t)
	d := ts.registerDisplay(t, "AA:BB:CC:DD:EE:01", "alice-token")

	res := ts.do(t, http.MethodPost, "/api/displays/"+d.ID+"/command", "bob-token", gin.H{"action": "reboot"})
	if res.Status != http.StatusConflict || res.Body.Code != "conflict" {
		t.Fatalf("other tenant's command: status %d code %q", res.Status, res.Body.Code)
	}
	res = ts.do(t, http.MethodPost, "/api/displays/"+d.ID+"/command", "alice-token", gin.H{"action": "explode"})
	if res.Status != http.StatusBadRequest {
		t.Fatalf("unknown action: status %d", res.Status)
	}
	res = ts.do(t, http.MethodPost, "/api/displays/"+d.ID+"/command", "alice-token", gin.H{"action": "reboot"})
	if res.Status != http.StatusOK {
		t.Fatalf("command: status %d body %s", res.Status, res.Raw)
	}

	var cfg models.DeviceConfig
	ts.do(t, http.MethodGet, "/api/displays/"+d.ID+"/config", "", nil).data(t, &cfg)
	if cfg.PendingCommand == nil || cfg.PendingCommand.Action != models.CommandReboot {
		t.Fatalf("first poll: %+v", cfg)
	}
	cfg = models.DeviceConfig{}
	ts.do(t, http.MethodGet, "/api/displays/"+d.ID+"/config", "", nil).data(t, &cfg)
	if cfg.PendingCommand != nil {
		t.Fatalf("second poll still has %+v", cfg.PendingCommand)
	}

	if res := ts.do(t, http.MethodGet, "/api/displays/0000000000000000/config", "", nil); res.Status != http.StatusNotFound {
		t.Errorf("unknown display: status %d", res.Status)
	}
}

func TestHeartbeatRoute(t *testing.T) {
	ts := newTestServer(t)
	d := ts.registerDisplay(t, "AA:BB:CC:DD:EE:03", "alice-token")

	res := ts.do(t, http.MethodPost, "/api/displays/"+d.ID+"/heartbeat", "", gin.H{
		"currentView": "schedule", "uptime": 42, "systemInfo": gin.H{"temperature": 51.5},
	})
	if res.Status != http.StatusOK {
		t.Fatalf("heartbeat: status %d body %s", res.Status, res.Raw)
	}
	var ack struct {
		Status        models.DeviceStatus
		ShouldRestart bool
	}
	res.data(t, &ack)
	if ack.Status != models.StatusOnline || ack.ShouldRestart {
		t.Errorf("heartbeat ack %+v", ack)
	}

	res = ts.do(t, http.MethodPost, "/api/displays/0000000000000000/heartbeat", "", gin.H{"uptime": 1})
	if res.Status != http.StatusNotFound || res.Body.Code != "not_found" {
		t.Fatalf("unknown display heartbeat: status %d code %q", res.Status, res.Body.Code)
	}
}

func TestTimerRoutes(t *testing.T) {
	ts := newTestServer(t)

	res := ts.do(t, http.MethodPost, "/api/timers/dq", "alice-token", gin.H{"tv": "TV 1", "duration": 5})
	if res.Status != http.StatusBadRequest {
		t.Fatalf("duration 5: status %d", res.Status)
	}
	res = ts.do(t, http.MethodPost, "/api/timers/dq", "alice-token", gin.H{"tv": "TV 1", "duration": 180})
	if res.Status != http.StatusOK {
		t.Fatalf("duration 180: status %d body %s", res.Status, res.Raw)
	}
	var timer models.Timer
	res.data(t, &timer)

	var active []models.ActiveTimer
	ts.do(t, http.MethodGet, "/api/timers", "alice-token", nil).data(t, &active)
	if len(active) != 1 || active[0].Key != timer.Key {
		t.Fatalf("active timers %+v", active)
	}

	var cancelled struct{ Cancelled bool }
	ts.do(t, http.MethodPost, "/api/timers/cancel", "alice-token", gin.H{"key": timer.Key}).data(t, &cancelled)
	if !cancelled.Cancelled {
		t.Error("cancel reported nothing cancelled")
	}
	ts.do(t, http.MethodPost, "/api/timers/cancel", "alice-token", gin.H{"key": timer.Key}).data(t, &cancelled)
	if cancelled.Cancelled {
		t.Error("second cancel should report already gone")
	}
}

func TestTimerRoutesAreTenantScoped(t *testing.T) {
	ts := newTestServer(t)

	res := ts.do(t, http.MethodPost, "/api/timers/dq", "alice-token", gin.H{"tv": "TV 1", "duration": 120, "playerName": "Alice Player"})
	if res.Status != http.StatusOK {
		t.Fatalf("start: status %d body %s", res.Status, res.Raw)
	}
	var timer models.Timer
	res.data(t, &timer)

	var active []models.ActiveTimer
	ts.do(t, http.MethodGet, "/api/timers", "bob-token", nil).data(t, &active)
	if len(active) != 0 {
		t.Fatalf("bob sees alice's timers: %+v", active)
	}

	var cancelled struct{ Cancelled bool }
	ts.do(t, http.MethodPost, "/api/timers/cancel", "bob-token", gin.H{"key": timer.Key}).data(t, &cancelled)
	if cancelled.Cancelled {
		t.Fatal("bob cancelled alice's timer")
	}

	active = nil
	ts.do(t, http.MethodGet, "/api/timers", "alice-token", nil).data(t, &active)
	if len(active) != 1 || active[0].PlayerName != "Alice Player" {
		t.Fatalf("alice's timers after bob's cancel: %+v", active)
	}
	active = nil
	ts.do(t, http.MethodGet, "/api/timers", "ops-token", nil).data(t, &active)
	if len(active) != 1 {
		t.Errorf("admin sees %d timers, want 1", len(active))
	}
}

func TestEmergencyRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/timers/tournament", "ops-token", gin.H{"duration": 600})

	var res models.EmergencyResult
	ts.do(t, http.MethodPost, "/api/emergency/activate", "ops-token", gin.H{"reason": "power"}).data(t, &res)
	if !res.State.Active || res.TimersCancelled != 1 {
		t.Fatalf("activate: %+v", res)
	}
	res = models.EmergencyResult{}
	ts.do(t, http.MethodPost, "/api/emergency/activate", "ops-token", nil).data(t, &res)
	if !res.AlreadyActive {
		t.Errorf("second activate: %+v", res)
	}
	var st models.EmergencyState
	ts.do(t, http.MethodGet, "/api/emergency/status", "ops-token", nil).data(t, &st)
	if !st.Active || st.Reason != "power" || st.ActivatedBy != "admin" {
		t.Errorf("status: %+v", st)
	}

	res2 := ts.do(t, http.MethodPost, "/api/timers/dq", "alice-token", gin.H{"tv": "TV 1", "duration": 60})
	if res2.Status != http.StatusConflict {
		t.Errorf("timer start during emergency: status %d", res2.Status)
	}

	if r := ts.do(t, http.MethodPost, "/api/emergency/deactivate", "alice-token", nil); r.Status != http.StatusForbidden || r.Body.Code != "forbidden" {
		t.Fatalf("tenant deactivate: status %d code %q", r.Status, r.Body.Code)
	}
	if !ts.services.Emergency.IsActive() {
		t.Fatal("tenant token lifted the emergency")
	}
	res = models.EmergencyResult{}
	ts.do(t, http.MethodPost, "/api/emergency/deactivate", "ops-token", nil).data(t, &res)
	if res.State.Active {
		t.Errorf("deactivate: %+v", res)
	}
}

func TestEmergencyRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	r := ts.do(t, http.MethodPost, "/api/emergency/activate", "alice-token", gin.H{"reason": "prank"})
	if r.Status != http.StatusForbidden || r.Body.Code != "forbidden" {
		t.Fatalf("tenant activate: status %d code %q", r.Status, r.Body.Code)
	}
	if ts.services.Emergency.IsActive() {
		t.Fatal("tenant token activated the emergency")
	}
	var st models.EmergencyState
	if r := ts.do(t, http.MethodGet, "/api/emergency/status", "alice-token", nil); r.Status != http.StatusOK {
		t.Errorf("tenant status read: status %d", r.Status)
	} else {
		r.data(t, &st)
	}
	if st.Active {
		t.Errorf("status after refused activate: %+v", st)
	}
}

func TestDebugLogExport(t *testing.T) {
	ts := newTestServer(t)
	d := ts.registerDisplay(t, "AA:BB:CC:DD:EE:02", "")
	ts.do(t, http.MethodPost, "/api/displays/"+d.ID+"/command", "ops-token", gin.H{"action": "debug_on"})

	var appended models.AppendLogsResult
	ts.do(t, http.MethodPost, "/api/displays/"+d.ID+"/logs", "", gin.H{"logs": []gin.H{
		{"level": "info", "source": "app", "message": "booted"},
		{"level": "error", "source": "cdp", "message": "socket closed"},
	}}).data(t, &appended)
	if !appended.Accepted || appended.Stored != 2 {
		t.Fatalf("append: %+v", appended)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/displays/"+d.ID+"/logs?format=gz", nil)
	req.Header.Set("Authorization", "Bearer ops-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status %d", resp.StatusCode)
	}
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "socket closed") {
		t.Errorf("export lines %q", lines)
	}

	if res := ts.do(t, http.MethodDelete, "/api/displays/"+d.ID+"/logs", "ops-token", nil); res.Status != http.StatusOK {
		t.Errorf("clear: status %d", res.Status)
	}
	var logs []models.DebugLogEntry
	ts.do(t, http.MethodGet, "/api/displays/"+d.ID+"/logs", "ops-token", nil).data(t, &logs)
	if len(logs) != 0 {
		t.Errorf("logs after clear: %d", len(logs))
	}
}
