package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// config is the gateway's runtime configuration.
type config struct {
	LogLevel       slog.Level
	NetworkID      string
	ResponseDelay  time.Duration
	ReportInterval time.Duration
	Serial         serialConfig
	MQTT           mqttConfig
	NATS           natsConfig
}

type serialConfig struct {
	Enabled  bool
	Port     string
	BaudRate int
}

type mqttConfig struct {
	Enabled     bool
	Broker      string
	Username    string
	Password    string
	UseTLS      bool
	TopicPrefix string
}

type natsConfig struct {
	Enabled          bool
	URL              string
	SubjectPrefix    string
	ReconnectWait    time.Duration
	MaxReconnects    int
	ForwardTelemetry bool
}

func defaultConfig() config {
	return config{
		LogLevel:       slog.LevelInfo,
		NetworkID:      "default",
		ResponseDelay:  50 * time.Millisecond,
		ReportInterval: 5 * time.Minute,
		Serial: serialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 115200,
		},
		MQTT: mqttConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "sensornet",
		},
		NATS: natsConfig{
			URL:              "nats://localhost:4222",
			SubjectPrefix:    "sensornet",
			ReconnectWait:    2 * time.Second,
			MaxReconnects:    -1,
			ForwardTelemetry: true,
		},
	}
}

// config.toml key mapping.
type fileConfig struct {
	LogLevel       string `toml:"log_level"`
	NetworkID      string `toml:"network_id"`
	ResponseDelay  string `toml:"response_delay"`
	ReportInterval string `toml:"report_interval"`
	Serial         struct {
		Enabled  bool   `toml:"enabled"`
		Port     string `toml:"port"`
		BaudRate int    `toml:"baud_rate"`
	} `toml:"serial"`
	MQTT struct {
		Enabled     bool   `toml:"enabled"`
		Broker      string `toml:"broker"`
		Username    string `toml:"username"`
		Password    string `toml:"password"`
		UseTLS      bool   `toml:"use_tls"`
		TopicPrefix string `toml:"topic_prefix"`
	} `toml:"mqtt"`
	NATS struct {
		Enabled          bool   `toml:"enabled"`
		URL              string `toml:"url"`
		SubjectPrefix    string `toml:"subject_prefix"`
		ReconnectWait    string `toml:"reconnect_wait"`
		MaxReconnects    int    `toml:"max_reconnects"`
		ForwardTelemetry bool   `toml:"forward_telemetry"`
	} `toml:"nats"`
}

// loadConfig reads a TOML config file and overlays it on the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return config{}, errors.New("load config: no config file given")
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("log_level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel))); err != nil {
			return config{}, fmt.Errorf("load config: log_level: %w", err)
		}
	}
	if meta.IsDefined("network_id") {
		cfg.NetworkID = strings.TrimSpace(raw.NetworkID)
	}
	if meta.IsDefined("response_delay") {
		if cfg.ResponseDelay, err = parseDuration("response_delay", raw.ResponseDelay); err != nil {
			return config{}, err
		}
	}
	if meta.IsDefined("report_interval") {
		if cfg.ReportInterval, err = parseDuration("report_interval", raw.ReportInterval); err != nil {
			return config{}, err
		}
	}

	if meta.IsDefined("serial", "enabled") {
		cfg.Serial.Enabled = raw.Serial.Enabled
	}
	if meta.IsDefined("serial", "port") {
		cfg.Serial.Port = strings.TrimSpace(raw.Serial.Port)
	}
	if meta.IsDefined("serial", "baud_rate") {
		cfg.Serial.BaudRate = raw.Serial.BaudRate
	}

	if meta.IsDefined("mqtt", "enabled") {
		cfg.MQTT.Enabled = raw.MQTT.Enabled
	}
	if meta.IsDefined("mqtt", "broker") {
		cfg.MQTT.Broker = strings.TrimSpace(raw.MQTT.Broker)
	}
	if meta.IsDefined("mqtt", "username") {
		cfg.MQTT.Username = raw.MQTT.Username
	}
	if meta.IsDefined("mqtt", "password") {
		cfg.MQTT.Password = raw.MQTT.Password
	}
	if meta.IsDefined("mqtt", "use_tls") {
		cfg.MQTT.UseTLS = raw.MQTT.UseTLS
	}
	if meta.IsDefined("mqtt", "topic_prefix") {
		cfg.MQTT.TopicPrefix = strings.TrimSpace(raw.MQTT.TopicPrefix)
	}

	if meta.IsDefined("nats", "enabled") {
		cfg.NATS.Enabled = raw.NATS.Enabled
	}
	if meta.IsDefined("nats", "url") {
		cfg.NATS.URL = strings.TrimSpace(raw.NATS.URL)
	}
	if meta.IsDefined("nats", "subject_prefix") {
		cfg.NATS.SubjectPrefix = strings.TrimSpace(raw.NATS.SubjectPrefix)
	}
	if meta.IsDefined("nats", "reconnect_wait") {
		if cfg.NATS.ReconnectWait, err = parseDuration("nats.reconnect_wait", raw.NATS.ReconnectWait); err != nil {
			return config{}, err
		}
	}
	if meta.IsDefined("nats", "max_reconnects") {
		cfg.NATS.MaxReconnects = raw.NATS.MaxReconnects
	}
	if meta.IsDefined("nats", "forward_telemetry") {
		cfg.NATS.ForwardTelemetry = raw.NATS.ForwardTelemetry
	}

	if err := cfg.validate(); err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c config) validate() error {
	if c.NetworkID == "" {
		return errors.New("network_id must not be empty")
	}
	if strings.ContainsAny(c.NetworkID, "/.#+*> ") {
		return fmt.Errorf("network_id %q contains a topic or subject separator", c.NetworkID)
	}
	if !c.Serial.Enabled && !c.MQTT.Enabled && !c.NATS.Enabled {
		return errors.New("at least one of serial, mqtt or nats must be enabled")
	}
	if c.Serial.Enabled && c.Serial.Port == "" {
		return errors.New("serial.port is required when serial is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	return nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("load config: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("load config: %s must not be negative", key)
	}
	return d, nil
}
