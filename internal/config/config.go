package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "APPLYTRACK_"

// Config holds all applytrack sync daemon configuration
type Config struct {
	// Control API listener
	Server ServerConfig `json:"server" yaml:"server" toml:"server"`

	// Remote service actions are delivered to
	Remote RemoteConfig `json:"remote" yaml:"remote" toml:"remote"`

	// Queue, dispatch and storage settings
	Queue QueueConfig `json:"queue" yaml:"queue" toml:"queue"`

	// Backoff between failed attempts
	Retry RetryConfig `json:"retry" yaml:"retry" toml:"retry"`

	// Connectivity probing
	Connectivity ConnectivityConfig `json:"connectivity" yaml:"connectivity" toml:"connectivity"`

	// Teardown flush transport
	Beacon BeaconConfig `json:"beacon" yaml:"beacon" toml:"beacon"`

	Log LogConfig `json:"log" yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Host string `json:"host" yaml:"host" toml:"host"`
	Port int    `json:"port" yaml:"port" toml:"port" validate:"min=1,max=65535"`
}

type RemoteConfig struct {
	BaseURL        string            `json:"baseURL" yaml:"baseURL" toml:"baseURL" validate:"required,url"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds" yaml:"timeoutSeconds" toml:"timeoutSeconds" validate:"min=0"`
}

type QueueConfig struct {
	StoreDSN              string `json:"storeDSN" yaml:"storeDSN" toml:"storeDSN" validate:"required"`
	RetentionHours        int    `json:"retentionHours" yaml:"retentionHours" toml:"retentionHours" validate:"min=1"`
	BatchSize             int    `json:"batchSize" yaml:"batchSize" toml:"batchSize" validate:"min=1,max=100"`
	BatchDelayMs          int    `json:"batchDelayMs" yaml:"batchDelayMs" toml:"batchDelayMs" validate:"min=0"`
	SyncIntervalSeconds   int    `json:"syncIntervalSeconds" yaml:"syncIntervalSeconds" toml:"syncIntervalSeconds" validate:"min=1"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds" toml:"requestTimeoutSeconds" validate:"min=1"`
	DefaultMaxRetries     int    `json:"defaultMaxRetries" yaml:"defaultMaxRetries" toml:"defaultMaxRetries" validate:"min=1"`
	PruneSchedule         string `json:"pruneSchedule" yaml:"pruneSchedule" toml:"pruneSchedule" validate:"required,cron"`
}

type RetryConfig struct {
	BaseDelayMs int `json:"baseDelayMs" yaml:"baseDelayMs" toml:"baseDelayMs" validate:"min=1"`
	CapDelayMs  int `json:"capDelayMs" yaml:"capDelayMs" toml:"capDelayMs" validate:"gtefield=BaseDelayMs"`
}

type ConnectivityConfig struct {
	HealthURL            string `json:"healthURL,omitempty" yaml:"healthURL,omitempty" toml:"healthURL,omitempty" validate:"omitempty,url"`
	ProbeIntervalSeconds int    `json:"probeIntervalSeconds" yaml:"probeIntervalSeconds" toml:"probeIntervalSeconds" validate:"min=1"`
	FailureThreshold     int    `json:"failureThreshold" yaml:"failureThreshold" toml:"failureThreshold" validate:"min=1"`
	StartOnline          bool   `json:"startOnline" yaml:"startOnline" toml:"startOnline"`
}

type BeaconConfig struct {
	Transport string     `json:"transport" yaml:"transport" toml:"transport" validate:"oneof=http mqtt none"`
	MQTT      MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty" toml:"mqtt,omitempty"`
}

type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker" toml:"broker"`
	Port     int    `json:"port" yaml:"port" toml:"port" validate:"min=0,max=65535"`
	Topic    string `json:"topic" yaml:"topic" toml:"topic"`
	ClientID string `json:"clientID,omitempty" yaml:"clientID,omitempty" toml:"clientID,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty" toml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" toml:"format" validate:"oneof=text json"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8484,
		},
		Remote: RemoteConfig{
			BaseURL:        "http://localhost:3000",
			TimeoutSeconds: 30,
		},
		Queue: QueueConfig{
			StoreDSN:              "file://./data/queue.json",
			RetentionHours:        24,
			BatchSize:             5,
			BatchDelayMs:          100,
			SyncIntervalSeconds:   30,
			RequestTimeoutSeconds: 15,
			DefaultMaxRetries:     3,
			PruneSchedule:         "@every 1h",
		},
		Retry: RetryConfig{
			BaseDelayMs: 1000,
			CapDelayMs:  30000,
		},
		Connectivity: ConnectivityConfig{
			ProbeIntervalSeconds: 10,
			FailureThreshold:     2,
			StartOnline:          true,
		},
		Beacon: BeaconConfig{
			Transport: "http",
			MQTT: MQTTConfig{
				Port:  1883,
				Topic: "applytrack/actions/beacon",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config at path, decoding by file extension (.json, .yaml,
// .yml, .toml), then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides selected fields from APPLYTRACK_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvPrefix + "REMOTE_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := getenv(EnvPrefix + "STORE_DSN"); v != "" {
		c.Queue.StoreDSN = v
	}
	if v := getenv(EnvPrefix + "HEALTH_URL"); v != "" {
		c.Connectivity.HealthURL = v
	}
	if v := getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv(EnvPrefix + "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Beacon.Transport == "mqtt" && c.Beacon.MQTT.Broker == "" {
		return fmt.Errorf("invalid config: beacon.mqtt.broker is required for mqtt transport")
	}
	return nil
}

// Save writes the config to path in the format implied by its extension.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// Durations converts the numeric settings into time.Duration values.
type Durations struct {
	RemoteTimeout  time.Duration
	Retention      time.Duration
	BatchDelay     time.Duration
	SyncInterval   time.Duration
	RequestTimeout time.Duration
	RetryBase      time.Duration
	RetryCap       time.Duration
	ProbeInterval  time.Duration
}

// Durations returns the config's time settings.
func (c *Config) Durations() Durations {
	return Durations{
		RemoteTimeout:  time.Duration(c.Remote.TimeoutSeconds) * time.Second,
		Retention:      time.Duration(c.Queue.RetentionHours) * time.Hour,
		BatchDelay:     time.Duration(c.Queue.BatchDelayMs) * time.Millisecond,
		SyncInterval:   time.Duration(c.Queue.SyncIntervalSeconds) * time.Second,
		RequestTimeout: time.Duration(c.Queue.RequestTimeoutSeconds) * time.Second,
		RetryBase:      time.Duration(c.Retry.BaseDelayMs) * time.Millisecond,
		RetryCap:       time.Duration(c.Retry.CapDelayMs) * time.Millisecond,
		ProbeInterval:  time.Duration(c.Connectivity.ProbeIntervalSeconds) * time.Second,
	}
}

// Addr returns the control API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
