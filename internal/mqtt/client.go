package mqtt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"smcpowerd/internal/config"
	"smcpowerd/internal/events"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func OptsFromConfig(cfg config.MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(fmt.Sprintf("smcpowerd_%d", rand.IntN(1000)))
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(events.PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = daemonStateTopic(cfg.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg config.MQTTConfig, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client: mqtt.NewClient(opts),
		cfg:    cfg,
	}
}

// MQTTClient mirrors daemon state onto an MQTT broker. It is an outbound
// sink only: the daemon takes commands over the local socket, never over
// MQTT.
type MQTTClient struct {
	client mqtt.Client
	cfg    config.MQTTConfig
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) DaemonStateTopic() string {
	return daemonStateTopic(c.baseTopic())
}

func (c *MQTTClient) ModeStateTopic() string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), events.SENSOR_ID_BATTERY_MODE)
}

func (c *MQTTClient) DeviceInfoTopic() string {
	return fmt.Sprintf("%s/device", c.baseTopic())
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func daemonStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/%s/state", baseTopic, events.SENSOR_ID_DAEMON_STATE)
}
