package smc

import "errors"

var (
	// ErrNotOpen is returned by register reads/writes issued before Open
	// or after Close.
	ErrNotOpen = errors.New("smc: controller connection not open")

	// ErrUnknownKey is returned when a key has no mapping on the backend.
	ErrUnknownKey = errors.New("smc: unknown register key")
)

// RegisterIO is the narrow contract to the hardware power controller.
//
// Callers acquire a connection with Open, perform their reads/writes and
// release it with Close before returning. No implementation caches register
// values across an Open/Close cycle. Close is idempotent.
type RegisterIO interface {
	Open() error
	ReadByte(key Key) (byte, error)
	WriteByte(key Key, value byte) error
	Close() error
}
