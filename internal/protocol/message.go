package protocol

import (
	"encoding/json"
	"fmt"
)

// Event is the closed set of operations a client can request.
type Event string

const (
	EventPing         Event = "ping"
	EventCharge       Event = "charge"
	EventDischarge    Event = "discharge"
	EventResetDefault Event = "resetDefault"
	EventStatus       Event = "status"
	EventStop         Event = "stop"
)

// DefaultEvent is mirrored on responses to requests that could not be
// decoded at all.
const DefaultEvent = EventPing

// Error codes surfaced to clients.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeSMCWriteFailed = "smc_write_failed"
	ErrCodeNoHandler      = "no_handler"
)

func (e Event) Valid() bool {
	switch e {
	case EventPing, EventCharge, EventDischarge, EventResetDefault, EventStatus, EventStop:
		return true
	}
	return false
}

// Request is one decoded client message. Id is opaque correlation data
// echoed verbatim on the response.
type Request struct {
	Id      string            `json:"id,omitempty"`
	Event   Event             `json:"event"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Response is the daemon's answer to one Request. Exactly one of Result or
// Error carries meaning: ok=false implies Error is set and Result is absent.
type Response struct {
	Id     string            `json:"id,omitempty"`
	Ok     bool              `json:"ok"`
	Event  Event             `json:"event"`
	Result map[string]string `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// DecodeRequest parses one framed message into a Request, enforcing the
// closed event set.
func DecodeRequest(frame []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return Request{}, fmt.Errorf("protocol: decode request: %w", err)
	}
	if !req.Event.Valid() {
		return Request{}, fmt.Errorf("protocol: unknown event %q", req.Event)
	}
	return req, nil
}

// OkResponse builds a successful response mirroring the request.
func OkResponse(req Request, result map[string]string) Response {
	return Response{
		Id:     req.Id,
		Ok:     true,
		Event:  req.Event,
		Result: result,
	}
}

// ErrResponse builds a failed response mirroring the request.
func ErrResponse(req Request, code string) Response {
	return Response{
		Id:    req.Id,
		Ok:    false,
		Event: req.Event,
		Error: code,
	}
}
