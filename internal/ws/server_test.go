package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padlink/backend/internal/controller"
	"github.com/padlink/backend/internal/device"
	"github.com/padlink/backend/internal/input"
	"github.com/padlink/backend/internal/mock"
	"github.com/padlink/backend/internal/monitor"
	"github.com/padlink/backend/internal/router"
	"github.com/padlink/backend/internal/session"
)

type testEnv struct {
	srv      *httptest.Server
	server   *Server
	registry *session.Registry
	pad      *mock.Gamepad
	wsURL    string
}

func newTestEnv(t *testing.T, maxSlots int) *testEnv {
	t.Helper()
	return newGuardedTestEnv(t, maxSlots, nil)
}

func newGuardedTestEnv(t *testing.T, maxSlots int, guard *monitor.ResourceGuard) *testEnv {
	t.Helper()
	pad := mock.NewGamepad()
	opts := controller.Options{
		Sensitivity: 0.8,
		Deadzone:    0.1,
		Codes:       device.CodeTable(device.ModeGamepad, nil),
	}
	registry := session.NewRegistry(session.Options{MaxSlots: maxSlots})
	server := NewServer(
		Options{Mode: device.ModeGamepad},
		registry,
		controller.GamepadFactory(pad, opts),
		router.New(router.Options{}, zerolog.Nop()),
		NewBroadcaster(zerolog.Nop()),
		guard,
		zerolog.Nop(),
	)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{
		srv:      srv,
		server:   server,
		registry: registry,
		pad:      pad,
		wsURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips messages until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) received {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if msg.Type == want {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func connect(t *testing.T, e *testEnv) (*websocket.Conn, ConnectedPayload) {
	t.Helper()
	conn := e.dial(t)
	msg := readMessage(t, conn)
	require.Equal(t, MsgConnected, msg.Type)
	var p ConnectedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	return conn, p
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t, 4)
	conn, connected := connect(t, e)

	assert.NotEmpty(t, connected.SessionID)
	assert.Equal(t, 1, connected.Slot)
	assert.Equal(t, 1, connected.TotalSessions)
	assert.Equal(t, 4, connected.MaxSessions)
	assert.Equal(t, "gamepad", connected.Mode)

	handles := e.pad.Handles()
	require.Len(t, handles, 1)
	h := handles[0]
	jump := device.DefaultGamepadCodes[input.ActionJump]

	send(t, conn, `{"type":"button-press","payload":{"button":"action-jump"}}`)
	require.Eventually(t, func() bool {
		st, _ := e.pad.State(h)
		return st.Buttons[jump]
	}, 2*time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return e.registry.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
	st, ok := e.pad.State(h)
	require.True(t, ok)
	assert.True(t, st.Neutral(), "device left neutral: %+v", st)
	assert.False(t, st.Connected)
	assert.Zero(t, e.pad.LateWrites())

	_, again := connect(t, e)
	assert.Equal(t, 1, again.Slot, "slot released")
}

func TestCapacityRejection(t *testing.T) {
	e := newTestEnv(t, 1)
	connect(t, e)

	conn := e.dial(t)
	msg := readMessage(t, conn)
	require.Equal(t, MsgConnectionRejected, msg.Type)
	var p ConnectionRejectedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, ReasonCapacity, p.Reason)
	assert.Equal(t, 1, p.TotalSessions)
	assert.Equal(t, 1, p.MaxSessions)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Equal(t, 1, e.registry.Count())
}

func TestDeviceFailureRejects(t *testing.T) {
	e := newTestEnv(t, 4)
	e.pad.FailConnect(mock.ErrInjected)

	conn := e.dial(t)
	msg := readMessage(t, conn)
	require.Equal(t, MsgConnectionRejected, msg.Type)
	var p ConnectionRejectedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, ReasonDevice, p.Reason)
	assert.Zero(t, e.registry.Count(), "slot given back")
}

func TestSessionCountBroadcast(t *testing.T) {
	e := newTestEnv(t, 4)
	first, _ := connect(t, e)

	second, _ := connect(t, e)
	msg := readUntil(t, first, MsgSessionCount)
	var p SessionCountPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, SessionCountPayload{Total: 2, Max: 4}, p)

	second.Close()
	msg = readUntil(t, first, MsgSessionCount)
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, SessionCountPayload{Total: 1, Max: 4}, p)
}

func TestVibrationAck(t *testing.T) {
	e := newTestEnv(t, 4)
	conn, _ := connect(t, e)

	send(t, conn, `{"type":"request-vibration","payload":{"intensity":2,"duration":10000}}`)
	msg := readUntil(t, conn, MsgVibrate)
	var p VibratePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, VibratePayload{Duration: 5000, Intensity: 1}, p)

	h := e.pad.Handles()[0]
	st, _ := e.pad.State(h)
	assert.Equal(t, [2]uint8{255, 255}, st.Motors)
}

func TestUnknownFramesIgnored(t *testing.T) {
	e := newTestEnv(t, 4)
	conn, _ := connect(t, e)

	send(t, conn, `garbage`)
	send(t, conn, `{"type":"button-press","payload":{"button":"fire"}}`)
	send(t, conn, `{"type":"teleport","payload":{}}`)
	send(t, conn, `{"type":"button-press","payload":{"button":"menu"}}`)

	h := e.pad.Handles()[0]
	menu := device.DefaultGamepadCodes[input.Menu]
	require.Eventually(t, func() bool {
		st, _ := e.pad.State(h)
		return st.Buttons[menu]
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, e.registry.Count())
}

func TestDeviceLossClosesSession(t *testing.T) {
	e := newTestEnv(t, 4)
	conn, _ := connect(t, e)

	e.pad.FailOp("Commit", fmt.Errorf("write: %w", device.ErrDeviceLost))
	send(t, conn, `{"type":"button-press","payload":{"button":"menu"}}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return e.registry.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownTearsDownSessions(t *testing.T) {
	e := newTestEnv(t, 4)
	conn, _ := connect(t, e)
	send(t, conn, `{"type":"move","payload":{"deltaX":1,"deltaY":1}}`)
	h := e.pad.Handles()[0]
	require.Eventually(t, func() bool {
		st, _ := e.pad.State(h)
		return st.Axes[device.RightX] != 0
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.server.Shutdown(ctx))

	assert.Zero(t, e.registry.Count())
	st, _ := e.pad.State(h)
	assert.True(t, st.Neutral())
}

func TestSessionsEndpoint(t *testing.T) {
	e := newTestEnv(t, 4)
	_, connected := connect(t, e)

	resp, err := http.Get(e.srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var sessions []session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, connected.SessionID, sessions[0].ID)
	assert.Equal(t, 1, sessions[0].Slot)
}

func TestHealthEndpoint(t *testing.T) {
	guard := monitor.NewResourceGuard(monitor.Options{
		MaxMemoryPercent: 90,
		Sampler: func() (monitor.Sample, error) {
			return monitor.Sample{MemoryPercent: 30}, nil
		},
	}, zerolog.Nop())
	e := newGuardedTestEnv(t, 4, guard)

	resp, err := http.Get(e.srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "gamepad", body.Mode)
	assert.Equal(t, 4, body.MaxSessions)
	require.NotNil(t, body.Resources)
	assert.Equal(t, monitor.StatusHealthy, body.Resources.Status)
}

func TestKeyboardMouseUnboundedAdmission(t *testing.T) {
	kbm := mock.NewKeyboardMouse()
	shared := controller.NewSharedKeyboardMouse(kbm)
	var full atomic.Bool
	guard := monitor.NewResourceGuard(monitor.Options{
		MaxMemoryPercent: 90,
		Sampler: func() (monitor.Sample, error) {
			if full.Load() {
				return monitor.Sample{MemoryPercent: 99}, nil
			}
			return monitor.Sample{MemoryPercent: 10}, nil
		},
	}, zerolog.Nop())
	registry := session.NewRegistry(session.Options{Gate: guard})
	server := NewServer(
		Options{Mode: device.ModeKeyboardMouse},
		registry,
		controller.KeyboardMouseFactory(shared, controller.Options{Codes: device.CodeTable(device.ModeKeyboardMouse, nil)}),
		router.New(router.Options{Debounce: 50 * time.Millisecond}, zerolog.Nop()),
		NewBroadcaster(zerolog.Nop()),
		guard,
		zerolog.Nop(),
	)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()
	e := &testEnv{srv: srv, server: server, registry: registry, wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}

	for i := 0; i < 6; i++ {
		_, p := connect(t, e)
		assert.Zero(t, p.Slot)
		assert.Zero(t, p.MaxSessions)
		assert.Equal(t, "keyboard-mouse", p.Mode)
	}

	full.Store(true)
	conn := e.dial(t)
	msg := readMessage(t, conn)
	require.Equal(t, MsgConnectionRejected, msg.Type)
	var p ConnectionRejectedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, ReasonResources, p.Reason)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "pad.local:8080", true},
		{"same host", nil, "http://pad.local:8080", "pad.local:8080", true},
		{"localhost", nil, "http://localhost:5173", "pad.local:8080", true},
		{"foreign", nil, "http://evil.example", "pad.local:8080", false},
		{"allow-listed", []string{"https://phone.example"}, "https://phone.example", "pad.local:8080", true},
		{"allow-list excludes localhost", []string{"https://phone.example"}, "http://localhost:5173", "pad.local:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Options{AllowedOrigins: tt.allowed}, session.NewRegistry(session.Options{}), nil, nil, NewBroadcaster(zerolog.Nop()), nil, zerolog.Nop())
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, s.checkOrigin(req))
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}
