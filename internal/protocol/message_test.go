package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"id":"42","event":"discharge","payload":{"reason":"test"}}`))
	require.NoError(t, err)

	assert.Equal(t, "42", req.Id)
	assert.Equal(t, EventDischarge, req.Event)
	assert.Equal(t, "test", req.Payload["reason"])
}

func TestDecodeRequestRejectsUnknownEvent(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"event":"reboot"}`))
	assert.Error(t, err)
}

func TestDecodeRequestRejectsMissingEvent(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"id":"1"}`))
	assert.Error(t, err)
}

func TestDecodeRequestRejectsBadJSON(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"event":`))
	assert.Error(t, err)
}

func TestEventValid(t *testing.T) {
	for _, ev := range []Event{EventPing, EventCharge, EventDischarge, EventResetDefault, EventStatus, EventStop} {
		assert.True(t, ev.Valid(), "event %s", ev)
	}
	assert.False(t, Event("").Valid())
	assert.False(t, Event("Ping").Valid())
}

func TestResponseHelpersMirrorRequest(t *testing.T) {
	req := Request{Id: "abc", Event: EventCharge}

	ok := OkResponse(req, map[string]string{"k": "v"})
	assert.Equal(t, "abc", ok.Id)
	assert.Equal(t, EventCharge, ok.Event)
	assert.True(t, ok.Ok)
	assert.Empty(t, ok.Error)

	fail := ErrResponse(req, ErrCodeSMCWriteFailed)
	assert.Equal(t, "abc", fail.Id)
	assert.Equal(t, EventCharge, fail.Event)
	assert.False(t, fail.Ok)
	assert.Equal(t, ErrCodeSMCWriteFailed, fail.Error)
	assert.Nil(t, fail.Result)
}
