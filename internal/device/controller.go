package device

import (
	"fmt"

	"smcpowerd/pkg/smc"

	"go.uber.org/zap"
)

// Status is the coarse operating mode inferred from the mode/control
// registers. It is derived on demand, never stored.
type Status string

const (
	StatusCharging    Status = "charging"
	StatusDischarging Status = "discharging"
	StatusDefault     Status = "systemDefault"
	StatusUnknown     Status = "unknown"
)

// Per-register bytes for the three operating modes. The values themselves
// are controller firmware contracts; the daemon only needs them to be
// stable and mutually distinguishable.
const (
	defaultByte = 0x00

	dischargeControlByte = 0x02 // CH0B, CH0C: inhibit charging
	dischargeAdapterByte = 0x01 // CH0I, CH0J: cut adapter input
	chargeOverrideByte   = 0x08 // CH0J: force charge regardless of limit

	ledSystemByte    = 0x00
	ledChargeByte    = 0x04
	ledDischargeByte = 0x01
)

// Configuration is a complete target-value assignment over the register
// set. Partial configurations are not representable: NewConfiguration
// rejects any value map that does not cover every register.
type Configuration struct {
	name   string
	values map[smc.Key]byte
}

func NewConfiguration(name string, values map[smc.Key]byte) (Configuration, error) {
	for _, key := range smc.RegisterSet() {
		if _, ok := values[key]; !ok {
			return Configuration{}, fmt.Errorf("device: configuration %q misses register %s", name, key)
		}
	}
	copied := make(map[smc.Key]byte, len(values))
	for _, key := range smc.RegisterSet() {
		copied[key] = values[key]
	}
	return Configuration{name: name, values: copied}, nil
}

func mustConfiguration(name string, values map[smc.Key]byte) Configuration {
	cfg, err := NewConfiguration(name, values)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c Configuration) Name() string {
	return c.name
}

func (c Configuration) Value(key smc.Key) byte {
	return c.values[key]
}

// ChargingConfiguration forces the battery to charge: charge inhibits off,
// adapter on, charge override set, LED showing forced charge.
func ChargingConfiguration() Configuration {
	return mustConfiguration("charging", map[smc.Key]byte{
		smc.KeyChargeControlB: defaultByte,
		smc.KeyChargeControlC: defaultByte,
		smc.KeyAdapterControl: defaultByte,
		smc.KeyChargeOverride: chargeOverrideByte,
		smc.KeyChargeLED:      ledChargeByte,
	})
}

// DischargingConfiguration forces the battery to drain: charging inhibited
// and adapter input cut.
func DischargingConfiguration() Configuration {
	return mustConfiguration("discharging", map[smc.Key]byte{
		smc.KeyChargeControlB: dischargeControlByte,
		smc.KeyChargeControlC: dischargeControlByte,
		smc.KeyAdapterControl: dischargeAdapterByte,
		smc.KeyChargeOverride: dischargeAdapterByte,
		smc.KeyChargeLED:      ledDischargeByte,
	})
}

// DefaultConfiguration returns every register to firmware control.
func DefaultConfiguration() Configuration {
	return mustConfiguration("systemDefault", map[smc.Key]byte{
		smc.KeyChargeControlB: defaultByte,
		smc.KeyChargeControlC: defaultByte,
		smc.KeyAdapterControl: defaultByte,
		smc.KeyChargeOverride: defaultByte,
		smc.KeyChargeLED:      ledSystemByte,
	})
}

// Controller applies named configurations to the power controller with
// snapshot-based rollback and infers the current operating mode.
//
// It carries no lock: the IPC reactor is the only caller and never runs two
// operations at once.
type Controller struct {
	io     smc.RegisterIO
	logger *zap.Logger
}

func NewController(io smc.RegisterIO, logger *zap.Logger) *Controller {
	return &Controller{
		io:     io,
		logger: logger.With(zap.String("component", "device")),
	}
}

func (c *Controller) Charge() error {
	return c.applyNamed(ChargingConfiguration())
}

func (c *Controller) Discharge() error {
	return c.applyNamed(DischargingConfiguration())
}

func (c *Controller) ResetDefault() error {
	return c.applyNamed(DefaultConfiguration())
}

func (c *Controller) applyNamed(cfg Configuration) error {
	if err := c.io.Open(); err != nil {
		c.logger.Error("device@apply: controller open failed", zap.String("config", cfg.Name()), zap.Error(err))
		return fmt.Errorf("device: open controller: %w", err)
	}
	defer c.io.Close()
	return c.ApplyConfiguration(cfg)
}

// ApplyConfiguration applies cfg over an already-open RegisterIO.
//
// It snapshots every register in set order before writing anything; a
// failed snapshot read aborts with zero writes issued. Writes then proceed
// in set order. If the write at position k fails, every register written
// before it is restored to its snapshot value, in the same order. Rollback
// is one-shot and best-effort: its own failures are logged and swallowed,
// and the apply reports failure regardless of rollback outcome. Callers
// must not assume a failed apply left the prior state fully restored.
func (c *Controller) ApplyConfiguration(cfg Configuration) error {
	set := smc.RegisterSet()

	snapshot := make(map[smc.Key]byte, len(set))
	for _, key := range set {
		value, err := c.io.ReadByte(key)
		if err != nil {
			c.logger.Error("device@apply: snapshot read failed, aborting",
				zap.String("config", cfg.Name()), zap.Stringer("register", key), zap.Error(err))
			return fmt.Errorf("device: snapshot %s: %w", key, err)
		}
		snapshot[key] = value
	}

	for i, key := range set {
		if err := c.io.WriteByte(key, cfg.Value(key)); err != nil {
			c.logger.Error("device@apply: write failed, rolling back",
				zap.String("config", cfg.Name()), zap.Stringer("register", key), zap.Error(err))
			c.rollback(set[:i], snapshot)
			return fmt.Errorf("device: write %s: %w", key, err)
		}
	}

	c.logger.Debug("device@apply: configuration applied", zap.String("config", cfg.Name()))
	return nil
}

// rollback restores the given registers to their snapshot values, in order.
// Individual restore failures are logged and otherwise ignored.
func (c *Controller) rollback(written []smc.Key, snapshot map[smc.Key]byte) {
	for _, key := range written {
		if err := c.io.WriteByte(key, snapshot[key]); err != nil {
			c.logger.Error("device@rollback: restore failed",
				zap.Stringer("register", key), zap.Error(err))
		}
	}
}

// CurrentStatus opens the controller, reads the four mode/control registers
// and classifies them. Any open or read failure yields StatusUnknown
// without partial classification.
func (c *Controller) CurrentStatus() Status {
	if err := c.io.Open(); err != nil {
		c.logger.Warn("device@status: controller open failed", zap.Error(err))
		return StatusUnknown
	}
	defer c.io.Close()

	mode := smc.ModeRegisters()
	values := make([]byte, len(mode))
	for i, key := range mode {
		value, err := c.io.ReadByte(key)
		if err != nil {
			c.logger.Warn("device@status: register read failed", zap.Stringer("register", key), zap.Error(err))
			return StatusUnknown
		}
		values[i] = value
	}
	return classify(values[0], values[1], values[2], values[3])
}

// classify maps the four mode/control register values to a Status. Rules
// apply in order, first match wins:
//  1. all four at their default byte: systemDefault
//  2. (r1 or r2 default) and (r3 or r4 default): charging. This overlaps
//     with partially-default transitional states and is an approximate
//     signal; do not tighten it without confirming firmware semantics.
//  3. all four at their exact discharge targets: discharging
//  4. anything else: unknown
func classify(r1, r2, r3, r4 byte) Status {
	if r1 == defaultByte && r2 == defaultByte && r3 == defaultByte && r4 == defaultByte {
		return StatusDefault
	}
	if (r1 == defaultByte || r2 == defaultByte) && (r3 == defaultByte || r4 == defaultByte) {
		return StatusCharging
	}
	if r1 == dischargeControlByte && r2 == dischargeControlByte &&
		r3 == dischargeAdapterByte && r4 == dischargeAdapterByte {
		return StatusDischarging
	}
	return StatusUnknown
}
