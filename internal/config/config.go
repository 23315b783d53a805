package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Socket   SocketConfig `mapstructure:"socket"`
	SMC      SMCConfig    `mapstructure:"smc"`
	MQTT     MQTTConfig   `mapstructure:"mqtt"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type SocketConfig struct {
	Path               string `mapstructure:"path"`
	WriteTimeoutMillis uint32 `mapstructure:"write_timeout_millis"`
}

type SMCConfig struct {
	// URL of the battery management unit in modbus form,
	// e.g. tcp://10.0.0.5:502 or rtu:///dev/ttyUSB0.
	Url           string `mapstructure:"url"`
	UnitId        uint   `mapstructure:"unit_id"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

type MQTTConfig struct {
	Enabled                 bool
	Host                    string
	Port                    int
	Username                string
	Password                string
	BaseTopic               string `mapstructure:"base_topic"`
	HeartbeatIntervalMillis uint32 `mapstructure:"heartbeat_interval_millis"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
