package smc

import "fmt"

// Key identifies a single 1-byte register on the power controller.
// Controller keys are always four ASCII characters; the controller service
// addresses them by a 32-bit code with the characters packed big-endian.
type Key struct {
	name string
	code uint32
}

func NewKey(name string) (Key, error) {
	if len(name) != 4 {
		return Key{}, fmt.Errorf("smc: register key must be 4 characters, got %q", name)
	}
	code := uint32(name[0])<<24 | uint32(name[1])<<16 | uint32(name[2])<<8 | uint32(name[3])
	return Key{name: name, code: code}, nil
}

// MustKey is NewKey for package-level key constants.
func MustKey(name string) Key {
	k, err := NewKey(name)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) Name() string {
	return k.name
}

func (k Key) Code() uint32 {
	return k.code
}

func (k Key) String() string {
	return k.name
}

// The register set this daemon manipulates. Order is significant: it defines
// the write sequence of a configuration apply and of a rollback.
var (
	KeyChargeControlB = MustKey("CH0B")
	KeyChargeControlC = MustKey("CH0C")
	KeyAdapterControl = MustKey("CH0I")
	KeyChargeOverride = MustKey("CH0J")
	KeyChargeLED      = MustKey("ACLC")
)

// RegisterSet returns the full ordered register set, mode/control registers
// first, indicator register last.
func RegisterSet() []Key {
	return []Key{KeyChargeControlB, KeyChargeControlC, KeyAdapterControl, KeyChargeOverride, KeyChargeLED}
}

// ModeRegisters returns the four mode/control registers used for status
// classification. The indicator register is excluded.
func ModeRegisters() []Key {
	return []Key{KeyChargeControlB, KeyChargeControlC, KeyAdapterControl, KeyChargeOverride}
}
