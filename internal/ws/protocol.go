package ws

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/padlink/backend/internal/input"
)

type MessageType string

// Client to server.
const (
	MsgButtonPress      MessageType = "button-press"
	MsgButtonRelease    MessageType = "button-release"
	MsgMove             MessageType = "move"
	MsgMouseClick       MessageType = "mouse-click"
	MsgRequestVibration MessageType = "request-vibration"
)

// Server to client.
const (
	MsgConnected          MessageType = "connected"
	MsgConnectionRejected MessageType = "connection-rejected"
	MsgSessionCount       MessageType = "session-count"
	MsgVibrate            MessageType = "vibrate"
)

// Rejection reasons carried by connection-rejected.
const (
	ReasonCapacity  = "capacity-exceeded"
	ReasonResources = "resources-exhausted"
	ReasonDevice    = "device-unavailable"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type inboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ButtonPayload struct {
	Button string `json:"button"`
}

type MovePayload struct {
	DeltaX float64 `json:"deltaX"`
	DeltaY float64 `json:"deltaY"`
	Stick  string  `json:"stick,omitempty"`
}

type MouseClickPayload struct {
	Button string `json:"button"`
}

// VibrationRequestPayload carries the duration in milliseconds.
type VibrationRequestPayload struct {
	Intensity float64 `json:"intensity"`
	Duration  float64 `json:"duration"`
}

type ConnectedPayload struct {
	SessionID     string `json:"sessionId"`
	Slot          int    `json:"slot,omitempty"`
	TotalSessions int    `json:"totalSessions"`
	MaxSessions   int    `json:"maxSessions"`
	Mode          string `json:"mode"`
}

type ConnectionRejectedPayload struct {
	Reason        string `json:"reason"`
	TotalSessions int    `json:"totalSessions"`
	MaxSessions   int    `json:"maxSessions"`
}

// SessionCountPayload reports the live session count. Max 0 means unbounded.
type SessionCountPayload struct {
	Total int `json:"total"`
	Max   int `json:"max"`
}

// VibratePayload echoes the clamped effect. Duration is in milliseconds.
type VibratePayload struct {
	Duration  int64   `json:"duration"`
	Intensity float64 `json:"intensity"`
}

// maxDurationMillis keeps client durations far from time.Duration overflow.
const maxDurationMillis = 24 * 60 * 60 * 1000

// DecodeEvent parses one client frame into an input event. Frames with an
// unknown type, a malformed payload or a name outside the vocabulary return an
// error wrapping input.ErrUnknownEvent.
func DecodeEvent(data []byte) (input.Event, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return input.Event{}, fmt.Errorf("%w: %v", input.ErrUnknownEvent, err)
	}

	var ev input.Event
	switch msg.Type {
	case MsgButtonPress, MsgButtonRelease:
		var p ButtonPayload
		if err := decodePayload(msg, &p); err != nil {
			return input.Event{}, err
		}
		ev.Kind = input.ButtonPress
		if msg.Type == MsgButtonRelease {
			ev.Kind = input.ButtonRelease
		}
		ev.Button = input.Button(p.Button)
	case MsgMove:
		var p MovePayload
		if err := decodePayload(msg, &p); err != nil {
			return input.Event{}, err
		}
		ev = input.Event{Kind: input.Move, Stick: input.Stick(p.Stick), DX: p.DeltaX, DY: p.DeltaY}
	case MsgMouseClick:
		var p MouseClickPayload
		if err := decodePayload(msg, &p); err != nil {
			return input.Event{}, err
		}
		ev = input.Event{Kind: input.Click, Mouse: input.MouseButton(p.Button)}
	case MsgRequestVibration:
		var p VibrationRequestPayload
		if err := decodePayload(msg, &p); err != nil {
			return input.Event{}, err
		}
		ms := math.Max(0, math.Min(p.Duration, maxDurationMillis))
		ev = input.Event{
			Kind:      input.Vibrate,
			Intensity: p.Intensity,
			Duration:  time.Duration(ms * float64(time.Millisecond)),
		}
	default:
		return input.Event{}, fmt.Errorf("%w: type %q", input.ErrUnknownEvent, msg.Type)
	}

	if err := ev.Validate(); err != nil {
		return input.Event{}, fmt.Errorf("%s: %w", msg.Type, err)
	}
	return ev, nil
}

func decodePayload(msg inboundMessage, v interface{}) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", input.ErrUnknownEvent, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", input.ErrUnknownEvent, msg.Type, err)
	}
	return nil
}

func vibrateMessage(intensity float64, d time.Duration) WSMessage {
	return WSMessage{
		Type: MsgVibrate,
		Payload: VibratePayload{
			Duration:  d.Milliseconds(),
			Intensity: intensity,
		},
	}
}
