package dispatch

import (
	"smcpowerd/internal/device"
	"smcpowerd/internal/protocol"

	"go.uber.org/zap"
)

// PowerController is the device surface the dispatcher drives. Operations
// are synchronous and must stay fast: while one runs, no other client is
// serviced.
type PowerController interface {
	Charge() error
	Discharge() error
	ResetDefault() error
	CurrentStatus() device.Status
}

// Outcome is the tagged result of dispatching one frame.
//
// Shutdown asks the caller to begin daemon shutdown strictly after Response
// has been handed to the connection's write path. Mode carries the
// operating mode established or observed by the request, or "" when the
// request had no mode information; the reactor forwards it to the state
// mirror.
type Outcome struct {
	Response protocol.Response
	Shutdown bool
	Mode     device.Status
}

// Dispatcher maps decoded requests onto controller operations. It is
// stateless aside from its collaborators and is only ever invoked from the
// reactor goroutine.
type Dispatcher struct {
	controller PowerController
	logger     *zap.Logger
}

func NewDispatcher(controller PowerController, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		controller: controller,
		logger:     logger.With(zap.String("component", "dispatch")),
	}
}

// Dispatch decodes one framed message and executes it. It never fails:
// every malformed or failing request maps to an error response.
func (d *Dispatcher) Dispatch(frame []byte) Outcome {
	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		d.logger.Debug("dispatch: invalid request", zap.Error(err))
		return Outcome{
			Response: protocol.Response{
				Ok:    false,
				Event: protocol.DefaultEvent,
				Error: protocol.ErrCodeInvalidRequest,
			},
		}
	}

	if d.controller == nil {
		d.logger.Error("dispatch: no controller configured", zap.String("event", string(req.Event)))
		return Outcome{Response: protocol.ErrResponse(req, protocol.ErrCodeNoHandler)}
	}

	switch req.Event {
	case protocol.EventPing:
		return Outcome{Response: protocol.OkResponse(req, map[string]string{"pong": "1"})}

	case protocol.EventCharge:
		return d.control(req, d.controller.Charge, device.StatusCharging)

	case protocol.EventDischarge:
		return d.control(req, d.controller.Discharge, device.StatusDischarging)

	case protocol.EventResetDefault:
		return d.control(req, d.controller.ResetDefault, device.StatusDefault)

	case protocol.EventStatus:
		status := d.controller.CurrentStatus()
		return Outcome{
			Response: protocol.OkResponse(req, map[string]string{"status": string(status)}),
			Mode:     status,
		}

	case protocol.EventStop:
		d.logger.Info("dispatch: stop requested", zap.String("id", req.Id))
		return Outcome{
			Response: protocol.OkResponse(req, map[string]string{"stopping": "1"}),
			Shutdown: true,
		}
	}

	// unreachable: DecodeRequest enforces the closed event set
	return Outcome{Response: protocol.ErrResponse(req, protocol.ErrCodeInvalidRequest)}
}

func (d *Dispatcher) control(req protocol.Request, op func() error, mode device.Status) Outcome {
	if err := op(); err != nil {
		d.logger.Warn("dispatch: control operation failed",
			zap.String("event", string(req.Event)), zap.Error(err))
		return Outcome{Response: protocol.ErrResponse(req, protocol.ErrCodeSMCWriteFailed)}
	}
	return Outcome{
		Response: protocol.OkResponse(req, nil),
		Mode:     mode,
	}
}
