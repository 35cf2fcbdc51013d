package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/experiment-core/internal/component"
	"github.com/nerrad567/experiment-core/internal/infrastructure/config"
	"github.com/nerrad567/experiment-core/internal/infrastructure/logging"
	"github.com/nerrad567/experiment-core/internal/infrastructure/metrics"
	"github.com/nerrad567/experiment-core/internal/instrument"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server over a container holding every built-in
// contract and implementation, plus one implementation whose constructor
// always fails.
func testServer(t *testing.T, secret string) (*Server, *component.Container) {
	t.Helper()

	c := component.NewContainer()
	if err := instrument.RegisterAll(c); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	broken := component.Implement("BrokenLaser", component.Descriptor{Name: "Broken"}, func() (*instrument.FakeLaser, error) {
		return nil, errors.New("serial port missing")
	})
	if err := c.RegisterImplementation(broken); err != nil {
		t.Fatalf("RegisterImplementation() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: secret}},
		Logger:    testLogger(),
		Container: c,
		Metrics:   metrics.New(),
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, c
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Container: component.NewContainer()}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without container succeeded")
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
}

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/health", "")
	if _, err := uuid.Parse(w.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("generated X-Request-ID %q is not a UUID: %v", w.Header().Get("X-Request-ID"), err)
	}

	w = do(t, router, http.MethodGet, "/api/v1/health", "", "X-Request-ID", "client-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestObserve_RecoversPanics(t *testing.T) {
	srv, _ := testServer(t, "")
	h := srv.observe(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("driver exploded")
	}))

	w := do(t, h, http.MethodGet, "/boom", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := decode[Error](t, w); got.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", got.Code, ErrCodeInternal)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("panicking request has no X-Request-ID")
	}
}

func TestObserve_LimitsBodySize(t *testing.T) {
	srv, _ := testServer(t, "")
	body := `{"implementation":"FakeLaser","settings":{"Test":"` + strings.Repeat("a", maxRequestBodySize) + `"}}`

	w := do(t, srv.buildRouter(), http.MethodPut, "/api/v1/slots/laser/Laser", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want 400", w.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodOptions, "/api/v1/slots", "", "Origin", "http://localhost:3000")

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetrics(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("metrics output missing go_goroutines")
	}
}

func TestSystem(t *testing.T) {
	srv, c := testServer(t, "")
	if err := c.Activate(instrument.StageContract, "", "FakeStage", nil); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/system", "")
	if w.Code != http.StatusOK {
		t.Fatalf("system status = %d", w.Code)
	}
	status := decode[SystemStatus](t, w)
	if status.Slots.Total != 7 || status.Slots.Active != 1 || status.Slots.Disabled != 6 {
		t.Errorf("slots = %+v", status.Slots)
	}
	if status.MQTT.Enabled {
		t.Error("MQTT reported enabled without a client")
	}
	if status.Telemetry.Enabled {
		t.Error("telemetry reported enabled without a client")
	}
}

func TestListSlots(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/slots", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	resp := decode[struct {
		Slots []SlotView `json:"slots"`
		Count int        `json:"count"`
	}](t, w)
	if resp.Count != 7 || len(resp.Slots) != 7 {
		t.Fatalf("count = %d, slots = %d, want 7", resp.Count, len(resp.Slots))
	}
	first := resp.Slots[0]
	if first.Contract != "laser" || first.Slot != "Laser" || first.ContractName != "Laser" {
		t.Errorf("first slot = %+v", first)
	}
	if first.Active != "" || first.ActiveDisplay != disabledChoice {
		t.Errorf("inactive slot shows %q/%q", first.Active, first.ActiveDisplay)
	}
	if first.Icon == "" {
		t.Error("slot icon is empty")
	}
}

func TestActivateSlot(t *testing.T) {
	srv, c := testServer(t, "")
	router := srv.buildRouter()

	w := do(t, router, http.MethodPut, "/api/v1/slots/laser/Laser", `{"implementation":"FakeLaser","settings":{"Test":"c"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", w.Code, w.Body.String())
	}
	detail := decode[SlotDetail](t, w)
	if detail.Active != "FakeLaser" || detail.ActiveDisplay != "Debug" {
		t.Errorf("detail = %+v", detail.SlotView)
	}
	if len(detail.Settings) != 1 || detail.Settings[0].Name != "Test" || detail.Settings[0].Value != "c" {
		t.Fatalf("settings = %+v", detail.Settings)
	}
	if detail.Settings[0].Kind != component.FieldOptions {
		t.Errorf("Test kind = %q, want options", detail.Settings[0].Kind)
	}

	laser, ok, _ := component.ActiveAs[*instrument.FakeLaser](c, instrument.LaserContract, "")
	if !ok || laser.Settings().Test != "c" {
		t.Error("container does not hold the activated laser")
	}

	// GET reflects the same state, addressed by slug.
	w = do(t, router, http.MethodGet, "/api/v1/slots/laser/laser", "")
	if got := decode[SlotDetail](t, w); got.Active != "FakeLaser" {
		t.Errorf("GET active = %q", got.Active)
	}

	// A null implementation disables.
	w = do(t, router, http.MethodPut, "/api/v1/slots/laser/Laser", `{"implementation":null}`)
	if w.Code != http.StatusOK {
		t.Fatalf("disable status = %d", w.Code)
	}
	if got := decode[SlotDetail](t, w); got.Active != "" || len(got.Settings) != 0 {
		t.Errorf("after disable = %+v", got)
	}
}

func TestActivateSlot_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown contract", "/api/v1/slots/nope/Laser", `{}`, http.StatusNotFound, ErrCodeNotFound},
		{"unknown slot", "/api/v1/slots/laser/other", `{}`, http.StatusNotFound, ErrCodeNotFound},
		{"invalid json", "/api/v1/slots/laser/Laser", `{`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown implementation", "/api/v1/slots/laser/Laser", `{"implementation":"Nope"}`, http.StatusNotFound, ErrCodeNotFound},
		{"wrong contract implementation", "/api/v1/slots/laser/Laser", `{"implementation":"FakeStage"}`, http.StatusNotFound, ErrCodeNotFound},
		{"settings for plain implementation", "/api/v1/slots/stage/Stage", `{"implementation":"FakeStage","settings":{"Speed":1}}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid settings", "/api/v1/slots/laser/Laser", `{"implementation":"FakeLaser","settings":{"Test":"z"}}`, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"misspelt setting", "/api/v1/slots/laser/Laser", `{"implementation":"FakeLaser","settings":{"Tset":"b"}}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"constructor failure", "/api/v1/slots/laser/Laser", `{"implementation":"BrokenLaser"}`, http.StatusBadGateway, ErrCodeActivationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, "")
			w := do(t, srv.buildRouter(), http.MethodPut, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decode[Error](t, w); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestActivateSlot_FailureLeavesSlotDisabled(t *testing.T) {
	srv, c := testServer(t, "")
	if err := c.Activate(instrument.LaserContract, "", "FakeLaser", nil); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	w := do(t, srv.buildRouter(), http.MethodPut, "/api/v1/slots/laser/Laser", `{"implementation":"BrokenLaser"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if name, _ := c.ActiveName(instrument.LaserContract, ""); name != "" {
		t.Errorf("ActiveName() = %q after failed activation, want disabled", name)
	}
}

func TestActivateSlot_ClosedContainer(t *testing.T) {
	srv, c := testServer(t, "")
	_ = c.Close()

	w := do(t, srv.buildRouter(), http.MethodPut, "/api/v1/slots/stage/Stage", `{"implementation":"FakeStage"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestListImplementations(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/slots/laser/Laser/implementations", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	resp := decode[struct {
		Implementations []ImplementationView `json:"implementations"`
	}](t, w)
	impls := resp.Implementations
	if len(impls) != 3 {
		t.Fatalf("implementations = %+v, want Disabled, FakeLaser, BrokenLaser", impls)
	}
	if impls[0].Name != "" || impls[0].DisplayName != disabledChoice {
		t.Errorf("first choice = %+v, want Disabled", impls[0])
	}
	if impls[1].Name != "FakeLaser" || !impls[1].HasSettings || len(impls[1].Defaults) != 1 {
		t.Errorf("FakeLaser choice = %+v", impls[1])
	}
	if impls[2].Name != "BrokenLaser" || impls[2].HasSettings {
		t.Errorf("BrokenLaser choice = %+v", impls[2])
	}
}

func TestReloadSlot(t *testing.T) {
	srv, c := testServer(t, "")
	if err := c.Activate(instrument.LaserContract, "", "FakeLaser", instrument.FakeLaserSettings{Test: "b"}); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	before, _, _ := component.ActiveAs[*instrument.FakeLaser](c, instrument.LaserContract, "")

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/slots/laser/Laser/reload", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	after, _, _ := component.ActiveAs[*instrument.FakeLaser](c, instrument.LaserContract, "")
	if after == before {
		t.Error("reload kept the same instance")
	}
	if after.Settings().Test != "b" {
		t.Errorf("reloaded settings = %+v, want Test=b", after.Settings())
	}
}

func TestAuth(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	router := srv.buildRouter()

	valid, err := IssueToken(testSecret, "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	expired, _ := IssueToken(testSecret, "operator", -time.Minute)
	foreign, _ := IssueToken("another-secret-that-is-long-enough-too", "operator", time.Minute)

	tests := []struct {
		name       string
		path       string
		header     []string
		wantStatus int
	}{
		{"health is public", "/api/v1/health", nil, http.StatusOK},
		{"metrics is public", "/api/v1/metrics", nil, http.StatusOK},
		{"missing token", "/api/v1/slots", nil, http.StatusUnauthorized},
		{"not bearer", "/api/v1/slots", []string{"Authorization", "Basic abc"}, http.StatusUnauthorized},
		{"expired token", "/api/v1/slots", []string{"Authorization", "Bearer " + expired}, http.StatusUnauthorized},
		{"wrong secret", "/api/v1/slots", []string{"Authorization", "Bearer " + foreign}, http.StatusUnauthorized},
		{"valid token", "/api/v1/slots", []string{"Authorization", "Bearer " + valid}, http.StatusOK},
		{"websocket without ticket", "/api/v1/ws", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, tt.path, "", tt.header...)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	subject, err := ParseToken(testSecret, token)
	if err != nil || subject != "operator" {
		t.Errorf("ParseToken() = %q, %v", subject, err)
	}
	if _, err := ParseToken(testSecret, "not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken(garbage) error = %v, want ErrInvalidToken", err)
	}
	if _, err := IssueToken("", "operator", time.Minute); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("IssueToken without secret error = %v, want ErrInvalidToken", err)
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	srv, _ := testServer(t, "")
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/auth/ws-ticket", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	ticket, _ := decode[map[string]any](t, w)["ticket"].(string)
	if ticket == "" {
		t.Fatal("expected a non-empty ticket")
	}
	if !srv.tickets.consume(ticket) {
		t.Error("ticket should be valid on first use")
	}
	if srv.tickets.consume(ticket) {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	store := newTicketStore()
	store.tickets["old"] = time.Now().Add(-time.Second)

	if store.consume("old") {
		t.Error("expired ticket should not be valid")
	}
	store.tickets["stale"] = time.Now().Add(-time.Second)
	store.tickets["fresh"] = time.Now().Add(time.Minute)
	store.cleanExpired()
	if _, ok := store.tickets["stale"]; ok {
		t.Error("cleanExpired kept an expired ticket")
	}
	if _, ok := store.tickets["fresh"]; !ok {
		t.Error("cleanExpired removed a live ticket")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	laser := newWSClient("laser-watcher")
	laser.watch([]string{"laser/Laser"})
	everything := newWSClient("all-watcher")
	everything.watch(nil)
	idle := newWSClient("idle")

	for _, c := range []*wsClient{laser, everything, idle} {
		if !hub.add(c) {
			t.Fatal("add() on a running hub returned false")
		}
	}
	waitFor(t, "3 clients", func() bool { return hub.ClientCount() == 3 })

	hub.Publish("laser/Laser", KindSlotChanged, SlotChangedEvent{Contract: "laser", Slot: "Laser"})
	hub.Publish("stage/Stage", KindSlotChanged, SlotChangedEvent{Contract: "stage", Slot: "Stage"})

	receive := func(c *wsClient) Frame {
		t.Helper()
		select {
		case data := <-c.events:
			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			return f
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for event", c.id)
		}
		return Frame{}
	}

	if f := receive(laser); f.Kind != KindSlotChanged {
		t.Errorf("laser watcher got %+v", f)
	}
	receive(everything)
	receive(everything)
	select {
	case data := <-laser.events:
		t.Errorf("laser watcher got a stage event: %s", data)
	case data := <-idle.events:
		t.Errorf("idle client got an event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}

	hub.remove(idle)
	hub.remove(idle)
	waitFor(t, "2 clients", func() bool { return hub.ClientCount() == 2 })
	if _, ok := <-idle.events; ok {
		t.Error("removed client's queue is still open")
	}

	cancel()
	if _, ok := <-laser.events; ok {
		t.Error("queue still open after the hub stopped")
	}
	if hub.add(newWSClient("late")) {
		t.Error("add() after the hub stopped returned true")
	}
}

func TestWSClient_Filter(t *testing.T) {
	c := newWSClient("c")
	if c.watches("laser/Laser") {
		t.Error("new client watches a slot")
	}
	c.watch([]string{"laser/Laser", "stage/Stage"})
	c.unwatch([]string{"stage/Stage"})
	if !c.watches("laser/Laser") || c.watches("stage/Stage") {
		t.Error("filter after watch/unwatch is wrong")
	}
	c.watch(nil)
	if !c.watches("camera/Camera") {
		t.Error("watch(nil) should watch every slot")
	}
	c.unwatch(nil)
	if c.watches("laser/Laser") || c.watches("camera/Camera") {
		t.Error("unwatch(nil) should clear the filter")
	}
}

// dialWS starts the hub and the slot watch for srv and connects a client.
func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)
	t.Cleanup(srv.watchSlots())

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	return ws
}

// wsFrame is Frame with its data left encoded.
type wsFrame struct {
	Kind string          `json:"kind"`
	Ref  string          `json:"ref"`
	Data json.RawMessage `json:"data"`
}

func roundTrip(t *testing.T, ws *websocket.Conn, req Request) wsFrame {
	t.Helper()
	if err := ws.WriteJSON(req); err != nil {
		t.Fatalf("write %s: %v", req.Op, err)
	}
	var f wsFrame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read %s answer: %v", req.Op, err)
	}
	if f.Ref != req.Ref {
		t.Fatalf("answer ref = %q, want %q", f.Ref, req.Ref)
	}
	return f
}

func TestWebSocket_WatchAndSlotChanged(t *testing.T) {
	srv, c := testServer(t, "")
	ws := dialWS(t, srv)

	ack := roundTrip(t, ws, Request{Op: OpWatch, Ref: "w1", Slots: []string{"stage/stage"}})
	if ack.Kind != KindAck {
		t.Fatalf("watch answer = %+v", ack)
	}
	var snapshot struct {
		Slots []SlotView `json:"slots"`
	}
	if err := json.Unmarshal(ack.Data, &snapshot); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot.Slots) != 1 || snapshot.Slots[0].Slot != "Stage" || snapshot.Slots[0].Active != "" {
		t.Fatalf("snapshot = %+v", snapshot.Slots)
	}

	// Not watched: must not arrive before the stage event.
	if err := c.Activate(instrument.LaserContract, "", "FakeLaser", nil); err != nil {
		t.Fatalf("Activate(laser) error = %v", err)
	}
	if err := c.Activate(instrument.StageContract, "", "FakeStage", nil); err != nil {
		t.Fatalf("Activate(stage) error = %v", err)
	}

	var event struct {
		Kind string           `json:"kind"`
		Data SlotChangedEvent `json:"data"`
	}
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Kind != KindSlotChanged {
		t.Errorf("kind = %q", event.Kind)
	}
	if event.Data.Contract != "stage" || event.Data.Implementation != "FakeStage" || event.Data.DisplayName != "Debug" {
		t.Errorf("event = %+v", event.Data)
	}
}

func TestWebSocket_Activate(t *testing.T) {
	srv, c := testServer(t, "")
	ws := dialWS(t, srv)

	impl := "FakeLaser"
	ack := roundTrip(t, ws, Request{Op: OpActivate, Ref: "a1", Slot: "laser/Laser", Implementation: &impl, Settings: map[string]any{"Test": "b"}})
	if ack.Kind != KindAck {
		t.Fatalf("activate answer = %+v (%s)", ack, ack.Data)
	}
	var view SlotView
	if err := json.Unmarshal(ack.Data, &view); err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Active != "FakeLaser" {
		t.Errorf("view = %+v", view)
	}
	laser, ok, _ := component.ActiveAs[*instrument.FakeLaser](c, instrument.LaserContract, "")
	if !ok || laser.Settings().Test != "b" {
		t.Error("container does not hold the activated laser")
	}

	tests := []struct {
		name     string
		req      Request
		wantCode string
	}{
		{"unknown slot", Request{Op: OpActivate, Ref: "e1", Slot: "laser/Other"}, ErrCodeNotFound},
		{"malformed key", Request{Op: OpActivate, Ref: "e2", Slot: "laser"}, ErrCodeNotFound},
		{"invalid settings", Request{Op: OpActivate, Ref: "e3", Slot: "laser/Laser", Implementation: &impl, Settings: map[string]any{"Test": "z"}}, ErrCodeValidation},
		{"misspelt setting", Request{Op: OpActivate, Ref: "e6", Slot: "laser/Laser", Implementation: &impl, Settings: map[string]any{"Tset": "b"}}, ErrCodeBadRequest},
		{"unknown op", Request{Op: "launch", Ref: "e4"}, ErrCodeBadRequest},
		{"watch unknown slot", Request{Op: OpWatch, Ref: "e5", Slots: []string{"camera/Nope"}}, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := roundTrip(t, ws, tt.req)
			if f.Kind != KindError {
				t.Fatalf("answer = %+v, want error", f)
			}
			var fe FrameError
			if err := json.Unmarshal(f.Data, &fe); err != nil {
				t.Fatalf("error data: %v", err)
			}
			if fe.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", fe.Code, tt.wantCode)
			}
		})
	}

	if f := roundTrip(t, ws, Request{Op: OpPing, Ref: "p1"}); f.Kind != KindPong {
		t.Errorf("ping answer = %+v", f)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t, "")

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	addr := srv.Addr()
	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
