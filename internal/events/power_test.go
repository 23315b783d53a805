package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDaemonDeviceIdIsStablePerBaseTopic(t *testing.T) {
	a := DaemonDevice("smcpowerd")
	b := DaemonDevice("smcpowerd")
	other := DaemonDevice("smcpowerd_lab")

	assert.Equal(t, a.Id, b.Id)
	assert.NotEqual(t, a.Id, other.Id)
	assert.True(t, strings.HasPrefix(a.Id, "smcpowerd_"))
}

func TestDaemonDeviceIdentity(t *testing.T) {
	d := DaemonDevice("smcpowerd")
	assert.Equal(t, "smcpowerd", d.Manufacturer)
	assert.NotEmpty(t, d.Name)
	assert.NotEmpty(t, d.Model)
}
