package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_DAEMON_STATE = "daemon"
	SENSOR_ID_BATTERY_MODE = "battery_mode"

	PAYLOAD_ONLINE  = "online"
	PAYLOAD_OFFLINE = "offline"
)

// Device is the identity block attached to the daemon's MQTT entities.
// Published retained so consumers can identify the daemon instance without
// catching it live.
type Device struct {
	Id           string `json:"id"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
}

func DaemonDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("smcpowerd_%s", md5HashShort(baseTopic)),
		Manufacturer: "smcpowerd",
		Model:        "SMC power daemon",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("smcpowerd %s", md5HashShort(baseTopic)),
	}
}

func md5HashShort(s string) string {
	hash := md5.Sum([]byte(s))
	return hex.EncodeToString(hash[:])[:8]
}
