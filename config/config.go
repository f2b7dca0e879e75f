package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Hardware     HardwareConfig     `yaml:"hardware"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Pairing      PairingConfig      `yaml:"pairing"`
	Notification NotificationConfig `yaml:"notification"`
	Push         PushConfig         `yaml:"push"`
}

// ServerConfig holds the local status API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the connection settings for the shared ephemeral store
// used to coordinate card pairing with the web server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LockerSlot maps a human locker code onto a bus address and slot command.
// Two physical slots share one bus address; slot 1 is the "A" side, slot 2
// the "B" side. ID must match the locker's database id.
type LockerSlot struct {
	Code    string `yaml:"code"`
	Address uint8  `yaml:"address"`
	Slot    uint8  `yaml:"slot"`
	ID      int64  `yaml:"id"`
}

// HardwareConfig describes the locker bank and input device timing.
type HardwareConfig struct {
	// BusDevice is the i2c-dev path of the locker bank bus. Empty selects
	// the in-memory simulator for development machines.
	BusDevice         string        `yaml:"bus_device"`
	Lockers           []LockerSlot  `yaml:"lockers"`
	CardScanTimeoutMS int           `yaml:"card_scan_timeout_ms"`
	CardScanTimeout   time.Duration `yaml:"-"`
	KeyDebounceMS     int           `yaml:"key_debounce_ms"`
	KeyDebounce       time.Duration `yaml:"-"`
	DisplayWidth      int           `yaml:"display_width"`
}

// MonitorConfig holds the background monitor and control loop cadences.
type MonitorConfig struct {
	IntervalMS     int           `yaml:"interval_ms"`
	Interval       time.Duration `yaml:"-"`
	PairingTickMS  int           `yaml:"pairing_tick_ms"`
	PairingTick    time.Duration `yaml:"-"`
	ErrorBackoffMS int           `yaml:"error_backoff_ms"`
	ErrorBackoff   time.Duration `yaml:"-"`
}

// PairingConfig holds the card pairing workflow tunables.
type PairingConfig struct {
	OTPLength        int           `yaml:"otp_length"`
	StepTTLSeconds   int           `yaml:"step_ttl_seconds"`
	StepTTL          time.Duration `yaml:"-"`
	ResultTTLSeconds int           `yaml:"result_ttl_seconds"`
	ResultTTL        time.Duration `yaml:"-"`
	ErrorHoldSeconds int           `yaml:"error_hold_seconds"`
	ErrorHold        time.Duration `yaml:"-"`
}

// NotificationConfig holds the outbound event dispatcher configuration.
type NotificationConfig struct {
	EventURL       string        `yaml:"event_url"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
	WorkerPoolSize int           `yaml:"worker_pool_size"`
	QueueSize      int           `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// DefaultLockers is the bank layout shipped with the original cabinet: five
// dual-slot modules on consecutive bus addresses.
func DefaultLockers() []LockerSlot {
	return []LockerSlot{
		{Code: "A1", Address: 0x08, Slot: 1, ID: 1},
		{Code: "B1", Address: 0x08, Slot: 2, ID: 2},
		{Code: "A2", Address: 0x09, Slot: 1, ID: 3},
		{Code: "B2", Address: 0x09, Slot: 2, ID: 4},
		{Code: "A3", Address: 0x0A, Slot: 1, ID: 5},
		{Code: "B3", Address: 0x0A, Slot: 2, ID: 6},
		{Code: "A4", Address: 0x0B, Slot: 1, ID: 7},
		{Code: "B4", Address: 0x0B, Slot: 2, ID: 8},
		{Code: "A5", Address: 0x0C, Slot: 1, ID: 9},
		{Code: "B5", Address: 0x0C, Slot: 2, ID: 10},
	}
}

// Load reads the configuration from the given path and fills defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields, validates the locker bank map and
// derives the duration fields from their integer counterparts.
func (cfg *Config) ApplyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if len(cfg.Hardware.Lockers) == 0 {
		cfg.Hardware.Lockers = DefaultLockers()
	}
	seen := make(map[string]bool, len(cfg.Hardware.Lockers))
	for _, l := range cfg.Hardware.Lockers {
		if l.Code == "" {
			return fmt.Errorf("hardware.lockers entry is missing a code")
		}
		if l.Slot != 1 && l.Slot != 2 {
			return fmt.Errorf("locker %s: slot must be 1 or 2, got %d", l.Code, l.Slot)
		}
		if seen[l.Code] {
			return fmt.Errorf("locker code %s is defined twice", l.Code)
		}
		seen[l.Code] = true
	}
	if cfg.Hardware.CardScanTimeoutMS <= 0 {
		cfg.Hardware.CardScanTimeoutMS = 500
	}
	cfg.Hardware.CardScanTimeout = time.Duration(cfg.Hardware.CardScanTimeoutMS) * time.Millisecond
	if cfg.Hardware.KeyDebounceMS <= 0 {
		cfg.Hardware.KeyDebounceMS = 300
	}
	cfg.Hardware.KeyDebounce = time.Duration(cfg.Hardware.KeyDebounceMS) * time.Millisecond
	if cfg.Hardware.DisplayWidth <= 0 {
		cfg.Hardware.DisplayWidth = 16
	}

	if cfg.Monitor.IntervalMS <= 0 {
		cfg.Monitor.IntervalMS = 500
	}
	cfg.Monitor.Interval = time.Duration(cfg.Monitor.IntervalMS) * time.Millisecond
	if cfg.Monitor.PairingTickMS <= 0 {
		cfg.Monitor.PairingTickMS = 100
	}
	cfg.Monitor.PairingTick = time.Duration(cfg.Monitor.PairingTickMS) * time.Millisecond
	if cfg.Monitor.ErrorBackoffMS <= 0 {
		cfg.Monitor.ErrorBackoffMS = 1000
	}
	cfg.Monitor.ErrorBackoff = time.Duration(cfg.Monitor.ErrorBackoffMS) * time.Millisecond

	if cfg.Pairing.OTPLength <= 0 {
		cfg.Pairing.OTPLength = 6
	}
	if cfg.Pairing.StepTTLSeconds <= 0 {
		cfg.Pairing.StepTTLSeconds = 120
	}
	cfg.Pairing.StepTTL = time.Duration(cfg.Pairing.StepTTLSeconds) * time.Second
	if cfg.Pairing.ResultTTLSeconds <= 0 {
		cfg.Pairing.ResultTTLSeconds = 10
	}
	cfg.Pairing.ResultTTL = time.Duration(cfg.Pairing.ResultTTLSeconds) * time.Second
	if cfg.Pairing.ErrorHoldSeconds <= 0 {
		cfg.Pairing.ErrorHoldSeconds = 3
	}
	cfg.Pairing.ErrorHold = time.Duration(cfg.Pairing.ErrorHoldSeconds) * time.Second

	if cfg.Notification.EventURL == "" {
		cfg.Notification.EventURL = "http://localhost:8888/api/hardware/locker-event"
	}
	if cfg.Notification.TimeoutSeconds <= 0 {
		cfg.Notification.TimeoutSeconds = 3
	}
	cfg.Notification.Timeout = time.Duration(cfg.Notification.TimeoutSeconds) * time.Second
	if cfg.Notification.WorkerPoolSize <= 0 {
		log.Printf("notification.worker_pool_size is not set or invalid; defaulting to 2")
		cfg.Notification.WorkerPoolSize = 2
	}
	if cfg.Notification.QueueSize <= 0 {
		cfg.Notification.QueueSize = 32
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	return nil
}
