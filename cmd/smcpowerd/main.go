package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smcpowerd/internal/config"
	"smcpowerd/internal/device"
	"smcpowerd/internal/dispatch"
	"smcpowerd/internal/mqtt"
	"smcpowerd/internal/server"
	"smcpowerd/internal/util"
	"smcpowerd/pkg/smc"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("starting smcpowerd", zap.String("version", versioninfo.Short()))

	regIO, err := smc.NewModbusIO(smc.ModbusIOConfig{
		URL:     cfg.SMC.Url,
		UnitId:  uint8(cfg.SMC.UnitId),
		Timeout: time.Duration(cfg.SMC.TimeoutMillis) * time.Millisecond,
	})
	if err != nil {
		logger.Fatal("controller backend init failed", zap.Error(err))
	}

	controller := device.NewController(regIO, logger)

	// one-time safety precheck: the hardware must accept a reset to
	// defaults before any client is served
	if err := safetyPrecheck(controller); err != nil {
		logger.Fatal("safety precheck failed", zap.Error(err))
	}
	logger.Info("safety precheck passed")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// optional MQTT state mirror; a broker problem never blocks the daemon
	var modes chan device.Status
	var mirror *mqtt.Mirror
	if cfg.MQTT.Enabled {
		modes = make(chan device.Status, 16)
		mirror = mqtt.NewMirror(cfg.MQTT, modes, logger)
		if err := mirror.Start(ctx); err != nil {
			logger.Warn("mqtt mirror unavailable, continuing without it", zap.Error(err))
			mirror = nil
		}
	}

	dispatcher := dispatch.NewDispatcher(controller, logger)
	srv := server.NewServer(server.Config{
		SocketPath:   cfg.Socket.Path,
		WriteTimeout: time.Duration(cfg.Socket.WriteTimeoutMillis) * time.Millisecond,
	}, dispatcher, modes, logger)

	if err := srv.Listen(); err != nil {
		logger.Fatal("server start failed", zap.Error(err))
	}

	healthServer := server.NewHealthServer(cfg.Port, cfg.HttpLog, srv)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// blocks until a stop request or a termination signal
	if err := srv.Serve(ctx); err != nil {
		logger.Error("server terminated abnormally", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}

	// best-effort: hand the hardware back to firmware control on the way out
	util.NewBackgroundTask(func() (*device.Status, error) {
		if err := controller.ResetDefault(); err != nil {
			return nil, err
		}
		status := controller.CurrentStatus()
		return &status, nil
	}).
		WithTimeout(5 * time.Second).
		OnError(func(err error) {
			logger.Warn("shutdown reset to defaults failed", zap.Error(err))
		}).
		OnSuccess(func(status device.Status) {
			logger.Info("hardware returned to firmware control", zap.String("status", string(status)))
		}).
		Run()

	if mirror != nil {
		mirror.Stop()
	}
	logger.Info("smcpowerd stopped")
}

// safetyPrecheck resets the controller to system defaults and verifies the
// hardware reports them back. Refusing to serve on failure beats running
// with a controller in an unknown state.
func safetyPrecheck(controller *device.Controller) error {
	if err := controller.ResetDefault(); err != nil {
		return fmt.Errorf("reset to defaults: %w", err)
	}
	if status := controller.CurrentStatus(); status != device.StatusDefault {
		return fmt.Errorf("controller reports %q after reset", status)
	}
	return nil
}

func initConfig() (*config.Config, error) {

	// alias PORT => SMCPOWERD_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SMCPOWERD_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("smcpowerd")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check bounds
	if cfg.Socket.Path == "" {
		return nil, errors.New("config param socket.path must not be empty")
	}
	if cfg.Socket.WriteTimeoutMillis < 100 {
		return nil, errors.New("config param socket.write_timeout_millis should be >= 100")
	}
	if cfg.SMC.TimeoutMillis < 100 {
		return nil, errors.New("config param smc.timeout_millis should be >= 100")
	}
	if cfg.SMC.UnitId > 255 {
		return nil, errors.New("config param smc.unit_id should be <= 255")
	}
	if cfg.MQTT.Enabled {
		// check and fix base topic
		baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic

		if cfg.MQTT.HeartbeatIntervalMillis < 1000 {
			return nil, errors.New("config param mqtt.heartbeat_interval_millis should be >= 1000")
		}
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("socket.path", "/var/run/smcpowerd.sock")
	viper.SetDefault("socket.write_timeout_millis", 2000)
	viper.SetDefault("smc.url", "tcp://127.0.0.1:502")
	viper.SetDefault("smc.unit_id", 1)
	viper.SetDefault("smc.timeout_millis", 1000)
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.base_topic", "smcpowerd")
	viper.SetDefault("mqtt.heartbeat_interval_millis", 30000)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
