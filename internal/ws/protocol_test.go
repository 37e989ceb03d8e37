package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padlink/backend/internal/input"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  input.Event
	}{
		{
			name:  "press",
			frame: `{"type":"button-press","payload":{"button":"action-jump"}}`,
			want:  input.Event{Kind: input.ButtonPress, Button: input.ActionJump},
		},
		{
			name:  "release",
			frame: `{"type":"button-release","payload":{"button":"dpad-left"}}`,
			want:  input.Event{Kind: input.ButtonRelease, Button: input.DpadLeft},
		},
		{
			name:  "move default stick",
			frame: `{"type":"move","payload":{"deltaX":0.25,"deltaY":-1}}`,
			want:  input.Event{Kind: input.Move, DX: 0.25, DY: -1},
		},
		{
			name:  "move left stick",
			frame: `{"type":"move","payload":{"deltaX":1,"deltaY":0,"stick":"left"}}`,
			want:  input.Event{Kind: input.Move, Stick: input.StickLeft, DX: 1},
		},
		{
			name:  "mouse click",
			frame: `{"type":"mouse-click","payload":{"button":"right"}}`,
			want:  input.Event{Kind: input.Click, Mouse: input.MouseRight},
		},
		{
			name:  "vibration in milliseconds",
			frame: `{"type":"request-vibration","payload":{"intensity":0.5,"duration":250}}`,
			want:  input.Event{Kind: input.Vibrate, Intensity: 0.5, Duration: 250 * time.Millisecond},
		},
		{
			name:  "negative duration floors at zero",
			frame: `{"type":"request-vibration","payload":{"intensity":1,"duration":-5}}`,
			want:  input.Event{Kind: input.Vibrate, Intensity: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEventRejects(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{"type":"jump"}`,
		`{"type":"button-press"}`,
		`{"type":"button-press","payload":{"button":"fire"}}`,
		`{"type":"button-press","payload":"action-jump"}`,
		`{"type":"move","payload":{"deltaX":1,"stick":"middle"}}`,
		`{"type":"mouse-click","payload":{"button":"middle"}}`,
		`{"type":"vibrate","payload":{"duration":100,"intensity":1}}`,
	} {
		_, err := DecodeEvent([]byte(frame))
		assert.ErrorIs(t, err, input.ErrUnknownEvent, frame)
	}
}

func TestVibrateMessageWireShape(t *testing.T) {
	data, err := json.Marshal(vibrateMessage(1, 5*time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"vibrate","payload":{"duration":5000,"intensity":1}}`, string(data))
}

func TestConnectedOmitsSlotWhenUnbounded(t *testing.T) {
	data, err := json.Marshal(WSMessage{
		Type:    MsgConnected,
		Payload: ConnectedPayload{SessionID: "abc", TotalSessions: 3, Mode: "keyboard-mouse"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected","payload":{"sessionId":"abc","totalSessions":3,"maxSessions":0,"mode":"keyboard-mouse"}}`, string(data))
}
