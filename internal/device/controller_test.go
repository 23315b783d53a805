package device

import (
	"testing"

	"smcpowerd/pkg/smc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestController() (*Controller, *smc.TestRegisterIO) {
	reg := smc.NewTestRegisterIO()
	return NewController(reg, zap.NewNop()), reg
}

func TestChargeThenStatus(t *testing.T) {
	c, reg := newTestController()

	require.NoError(t, c.Charge())

	assert.Equal(t, byte(0x08), reg.Registers[smc.KeyChargeOverride])
	assert.Equal(t, byte(0x04), reg.Registers[smc.KeyChargeLED])
	assert.Equal(t, StatusCharging, c.CurrentStatus())
}

func TestDischargeThenStatus(t *testing.T) {
	c, reg := newTestController()

	require.NoError(t, c.Discharge())

	assert.Equal(t, byte(0x02), reg.Registers[smc.KeyChargeControlB])
	assert.Equal(t, byte(0x02), reg.Registers[smc.KeyChargeControlC])
	assert.Equal(t, byte(0x01), reg.Registers[smc.KeyAdapterControl])
	assert.Equal(t, byte(0x01), reg.Registers[smc.KeyChargeOverride])
	assert.Equal(t, StatusDischarging, c.CurrentStatus())
}

func TestResetDefaultRestoresEveryRegister(t *testing.T) {
	c, reg := newTestController()

	require.NoError(t, c.Discharge())
	require.NoError(t, c.ResetDefault())

	for _, key := range smc.RegisterSet() {
		assert.Equal(t, byte(0x00), reg.Registers[key], "register %s", key)
	}
	assert.Equal(t, StatusDefault, c.CurrentStatus())
}

func TestApplyRollsBackWrittenRegistersOnFailure(t *testing.T) {
	c, reg := newTestController()

	// third write fails; the two registers already written are restored
	reg.FailWriteAt = 3
	err := c.Discharge()
	require.Error(t, err)

	for _, key := range smc.RegisterSet() {
		assert.Equal(t, byte(0x00), reg.Registers[key], "register %s", key)
	}
	assert.Equal(t, []smc.WriteRecord{
		{Key: smc.KeyChargeControlB, Value: 0x02},
		{Key: smc.KeyChargeControlC, Value: 0x02},
		{Key: smc.KeyChargeControlB, Value: 0x00},
		{Key: smc.KeyChargeControlC, Value: 0x00},
	}, reg.Writes)
}

func TestApplyFirstWriteFailureLeavesNoTrace(t *testing.T) {
	c, reg := newTestController()

	reg.FailWriteAt = 1
	err := c.Charge()
	require.Error(t, err)

	assert.Empty(t, reg.Writes)
	assert.Equal(t, StatusDefault, c.CurrentStatus())
}

func TestApplyAbortsWhenSnapshotReadFails(t *testing.T) {
	c, reg := newTestController()

	reg.FailReadOn[smc.KeyChargeOverride] = true
	err := c.Charge()
	require.Error(t, err)

	// aborted before the first write
	assert.Empty(t, reg.Writes)
}

func TestApplyFailsWhenControllerWillNotOpen(t *testing.T) {
	c, reg := newTestController()

	reg.FailOpen = true
	assert.Error(t, c.Charge())
	assert.Error(t, c.Discharge())
	assert.Error(t, c.ResetDefault())
	assert.Empty(t, reg.Writes)
}

func TestControllerBalancesOpenAndClose(t *testing.T) {
	c, reg := newTestController()

	require.NoError(t, c.Charge())
	require.NoError(t, c.ResetDefault())
	_ = c.CurrentStatus()

	assert.Equal(t, 3, reg.OpenCount)
	assert.Equal(t, 3, reg.CloseCount)
}

func TestCurrentStatusUnknownWhenOpenFails(t *testing.T) {
	c, reg := newTestController()

	reg.FailOpen = true
	assert.Equal(t, StatusUnknown, c.CurrentStatus())
}

func TestCurrentStatusUnknownWhenReadFails(t *testing.T) {
	c, reg := newTestController()

	reg.FailReadOn[smc.KeyChargeControlC] = true
	assert.Equal(t, StatusUnknown, c.CurrentStatus())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name           string
		r1, r2, r3, r4 byte
		want           Status
	}{
		{"all default", 0x00, 0x00, 0x00, 0x00, StatusDefault},
		{"charge override only", 0x00, 0x00, 0x00, 0x08, StatusCharging},
		{"partial default pairs", 0x00, 0x02, 0x00, 0x02, StatusCharging},
		{"exact discharge targets", 0x02, 0x02, 0x01, 0x01, StatusDischarging},
		{"discharge with odd indicator pair", 0x02, 0x02, 0x01, 0x05, StatusUnknown},
		{"garbage", 0xff, 0xff, 0xff, 0xff, StatusUnknown},
		{"near-discharge but r2 default", 0x02, 0x00, 0x01, 0x00, StatusCharging},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.r1, tc.r2, tc.r3, tc.r4))
		})
	}
}

func TestNewConfigurationRejectsPartialAssignments(t *testing.T) {
	_, err := NewConfiguration("partial", map[smc.Key]byte{
		smc.KeyChargeControlB: 0x00,
		smc.KeyChargeControlC: 0x00,
	})
	assert.Error(t, err)
}

func TestBuiltinConfigurationsCoverRegisterSet(t *testing.T) {
	for _, cfg := range []Configuration{ChargingConfiguration(), DischargingConfiguration(), DefaultConfiguration()} {
		assert.NotEmpty(t, cfg.Name())
		rebuilt := make(map[smc.Key]byte, len(smc.RegisterSet()))
		for _, key := range smc.RegisterSet() {
			rebuilt[key] = cfg.Value(key)
		}
		_, err := NewConfiguration(cfg.Name(), rebuilt)
		assert.NoError(t, err)
	}
}
