package smc

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
)

// DefaultAddresses maps each register key to the holding register exposed by
// the battery management unit. BMUs that follow the reference register map
// need no override.
func DefaultAddresses() map[Key]uint16 {
	return map[Key]uint16{
		KeyChargeControlB: 0x0100,
		KeyChargeControlC: 0x0101,
		KeyAdapterControl: 0x0102,
		KeyChargeOverride: 0x0103,
		KeyChargeLED:      0x0110,
	}
}

type ModbusIOConfig struct {
	// URL in simonvetter/modbus form, e.g. tcp://10.0.0.5:502 or
	// rtu:///dev/ttyUSB0.
	URL     string
	UnitId  uint8
	Timeout time.Duration
	// Addresses overrides DefaultAddresses when non-nil.
	Addresses map[Key]uint16
}

// ModbusIO implements RegisterIO against a battery management unit reachable
// over Modbus. Each daemon operation opens and closes its own connection;
// the underlying client is never shared across concurrent operations.
type ModbusIO struct {
	client *modbus.ModbusClient
	addrs  map[Key]uint16
	open   bool
}

func NewModbusIO(cfg ModbusIOConfig) (*ModbusIO, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 1 * time.Second
	}
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     cfg.URL,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("smc: create modbus client: %w", err)
	}
	if cfg.UnitId != 0 {
		if err := client.SetUnitId(cfg.UnitId); err != nil {
			return nil, fmt.Errorf("smc: set modbus unit id: %w", err)
		}
	}
	addrs := cfg.Addresses
	if addrs == nil {
		addrs = DefaultAddresses()
	}
	return &ModbusIO{
		client: client,
		addrs:  addrs,
	}, nil
}

func (m *ModbusIO) Open() error {
	if err := m.client.Open(); err != nil {
		return err
	}
	m.open = true
	return nil
}

func (m *ModbusIO) ReadByte(key Key) (byte, error) {
	if !m.open {
		return 0, ErrNotOpen
	}
	addr, ok := m.addrs[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	value, err := m.client.ReadRegister(addr, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	if value > 0xff {
		return 0, fmt.Errorf("smc: register %s value 0x%04x exceeds one byte", key, value)
	}
	return byte(value), nil
}

func (m *ModbusIO) WriteByte(key Key, value byte) error {
	if !m.open {
		return ErrNotOpen
	}
	addr, ok := m.addrs[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return m.client.WriteRegister(addr, uint16(value))
}

func (m *ModbusIO) Close() error {
	if !m.open {
		return nil
	}
	m.open = false
	return m.client.Close()
}

// ensure interface compliance
var _ RegisterIO = (*ModbusIO)(nil)
