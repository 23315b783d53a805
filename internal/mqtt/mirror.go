package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smcpowerd/internal/config"
	"smcpowerd/internal/device"
	"smcpowerd/internal/events"
	"smcpowerd/internal/util"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/lmittmann/tint"
	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

type publishFunc func(topic, payload string, retain bool)

// Mirror pushes daemon availability and the last battery operating mode to
// an MQTT broker. It is a pure sink fed by the reactor's mode channel:
// broker trouble is logged and never reaches the IPC protocol.
type Mirror struct {
	cfg    config.MQTTConfig
	client *MQTTClient
	modes  <-chan device.Status
	logger *zap.Logger
	sched  quartz.Scheduler

	// publish is the broker-backed default; swapped out in tests
	publish publishFunc

	mu       sync.Mutex
	lastMode string
}

func NewMirror(cfg config.MQTTConfig, modes <-chan device.Status, logger *zap.Logger) *Mirror {
	m := &Mirror{
		cfg:    cfg,
		modes:  modes,
		logger: logger.With(zap.String("component", "mqtt")),
	}
	m.client = CreateMQTTClient(cfg, OptsFromConfig(cfg),
		func(pahomqtt.Client) {
			m.logger.Info("mqtt@connected")
			m.publishDeviceInfo()
			m.publishState()
		},
		func(_ pahomqtt.Client, err error) {
			m.logger.Warn("mqtt@connection lost", zap.Error(err))
		})
	m.publish = m.clientPublish
	return m
}

// Start connects to the broker, begins consuming mode updates and schedules
// the heartbeat job. The consumer stops when ctx is cancelled.
func (m *Mirror) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	m.client.Connect(func(err error) { errc <- err }, connectTimeout)
	if err := <-errc; err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}

	go m.consume(ctx)

	quartzlogger.SetDefault(quartzlogger.NewSimpleLogger(
		slog.NewLogLogger(m.schedulerLogger().Handler(), slog.LevelInfo),
		quartzlogger.LevelWarn))
	m.sched = quartz.NewStdScheduler()
	m.sched.Start(ctx)

	interval := time.Duration(m.cfg.HeartbeatIntervalMillis) * time.Millisecond
	heartbeat := job.NewFunctionJob(func(context.Context) (bool, error) {
		m.publishState()
		return true, nil
	})
	err := m.sched.ScheduleJob(
		quartz.NewJobDetail(heartbeat, quartz.NewJobKey("state_heartbeat")),
		quartz.NewSimpleTrigger(interval))
	if err != nil {
		return fmt.Errorf("mqtt: schedule heartbeat: %w", err)
	}
	return nil
}

// Stop publishes the offline state and disconnects.
func (m *Mirror) Stop() {
	if m.sched != nil {
		m.sched.Stop()
	}
	util.NewBackgroundTaskErr(func() error {
		done := make(chan error, 1)
		m.client.Publish(m.client.DaemonStateTopic(), events.PAYLOAD_OFFLINE, 0, true,
			func(err error) { done <- err }, publishTimeout)
		return <-done
	}).
		OnError(func(err error) {
			m.logger.Warn("mqtt@stop: offline publish failed", zap.Error(err))
		}).
		Run()
	m.client.Disconnect(250 * time.Millisecond)
}

func (m *Mirror) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case mode, ok := <-m.modes:
			if !ok {
				return
			}
			m.mu.Lock()
			m.lastMode = string(mode)
			m.mu.Unlock()
			m.publishMode(string(mode))
		}
	}
}

// publishState republishes availability and the last known mode; used on
// connect, reconnect and every heartbeat tick.
func (m *Mirror) publishState() {
	m.publish(m.client.DaemonStateTopic(), events.PAYLOAD_ONLINE, true)
	m.mu.Lock()
	mode := m.lastMode
	m.mu.Unlock()
	if mode != "" {
		m.publishMode(mode)
	}
}

// publishDeviceInfo announces the daemon identity block, retained.
func (m *Mirror) publishDeviceInfo() {
	info, err := json.Marshal(events.DaemonDevice(m.cfg.BaseTopic))
	if err != nil {
		m.logger.Warn("mqtt@device info encode failed", zap.Error(err))
		return
	}
	m.publish(m.client.DeviceInfoTopic(), string(info), true)
}

func (m *Mirror) publishMode(mode string) {
	m.publish(m.client.ModeStateTopic(), mode, true)
}

func (m *Mirror) clientPublish(topic, payload string, retain bool) {
	m.client.Publish(topic, payload, 0, retain, func(err error) {
		if err != nil {
			m.logger.Warn("mqtt@publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}, publishTimeout)
}

// schedulerLogger bridges the zap logger into an slog logger the scheduler
// logger is built on.
func (m *Mirror) schedulerLogger() *slog.Logger {
	stdOutLogger := zap.NewStdLog(m.logger)

	var slogLevel slog.Level
	switch m.logger.Level() {
	case zapcore.DebugLevel:
		slogLevel = slog.LevelDebug
	case zapcore.WarnLevel:
		slogLevel = slog.LevelWarn
	case zapcore.ErrorLevel:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
		Level:      slogLevel,
		TimeFormat: time.DateTime,
	}))
}
