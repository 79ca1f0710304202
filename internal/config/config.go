package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// MaxSlots is the number of AMC slots in a crate.
const MaxSlots = 12

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crate     CrateConfig     `mapstructure:"crate"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Hardware  HardwareConfig  `mapstructure:"hardware"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Users          []UserConfig  `mapstructure:"users"`
}

// UserConfig is a local operator account. PasswordHash is an argon2id
// encoded hash as produced by auth.PasswordHasher.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	Role         string `mapstructure:"role"`
	PasswordHash string `mapstructure:"password_hash"`
}

// CrateConfig describes which slots are populated and how to reach each card.
type CrateConfig struct {
	CrateID        int          `mapstructure:"crate_id" json:"crate_id"`
	AMCSlots       string       `mapstructure:"amc_slots" json:"amc_slots"`
	ConnectionFile string       `mapstructure:"connection_file" json:"connection_file"`
	Slots          []SlotConfig `mapstructure:"slots" json:"slots"`
}

// SlotConfig holds the connection parameters of one card. A nil CrateID
// inherits CrateConfig.CrateID.
type SlotConfig struct {
	Slot              int    `mapstructure:"slot" json:"slot"`
	CrateID           *int   `mapstructure:"crate_id" json:"crate_id"`
	ControlHubAddress string `mapstructure:"control_hub_address" json:"control_hub_address"`
	ControlHubPort    int    `mapstructure:"control_hub_port" json:"control_hub_port"`
	IPBusProtocol     string `mapstructure:"ipbus_protocol" json:"ipbus_protocol"`
	DeviceIPAddress   string `mapstructure:"device_ip_address" json:"device_ip_address"`
	IPBusPort         int    `mapstructure:"ipbus_port" json:"ipbus_port"`
	AddressTable      string `mapstructure:"address_table" json:"address_table"`
	SbitSource        int    `mapstructure:"sbit_source" json:"sbit_source"`
}

type ScanConfig struct {
	Type string `mapstructure:"type" json:"type"`
	Min  int    `mapstructure:"min" json:"min"`
	Step int    `mapstructure:"step" json:"step"`
}

type LifecycleConfig struct {
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	DrainPollInterval time.Duration `mapstructure:"drain_poll_interval"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type HardwareConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	AddressTablePaths []string      `mapstructure:"address_table_paths"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("CRATE") // Environment Variables mit Prefix CRATE_

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("crate.crate_id", 1)
	v.SetDefault("crate.amc_slots", "")

	v.SetDefault("scan.type", "none")
	v.SetDefault("scan.min", 0)
	v.SetDefault("scan.step", 1)

	v.SetDefault("lifecycle.settle_delay", "100us")
	v.SetDefault("lifecycle.drain_poll_interval", "100us")
	v.SetDefault("lifecycle.drain_timeout", "5s")

	v.SetDefault("monitor.interval", "1s")

	v.SetDefault("hardware.timeout", "1s")
	v.SetDefault("hardware.address_table_paths", []string{"address_tables"})
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	switch c.Scan.Type {
	case "none", "latency", "threshold":
	default:
		return fmt.Errorf("scan.type must be one of none, latency, threshold (got %q)", c.Scan.Type)
	}
	if c.Scan.Min < 0 || c.Scan.Min > 0xff {
		return fmt.Errorf("scan.min must be within 0..255 (got %d)", c.Scan.Min)
	}
	if c.Scan.Step < 0 || c.Scan.Step > 0xff {
		return fmt.Errorf("scan.step must be within 0..255 (got %d)", c.Scan.Step)
	}
	if c.Lifecycle.DrainPollInterval <= 0 {
		return fmt.Errorf("lifecycle.drain_poll_interval must be positive")
	}
	if c.Lifecycle.DrainTimeout <= 0 {
		return fmt.Errorf("lifecycle.drain_timeout must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	return c.Crate.Validate()
}

// Validate checks that slot entries are in range and unique.
func (c *CrateConfig) Validate() error {
	seen := make(map[int]bool, len(c.Slots))
	for _, s := range c.Slots {
		if s.Slot < 1 || s.Slot > MaxSlots {
			return fmt.Errorf("crate.slots: slot %d out of range 1..%d", s.Slot, MaxSlots)
		}
		if seen[s.Slot] {
			return fmt.Errorf("crate.slots: slot %d configured twice", s.Slot)
		}
		seen[s.Slot] = true
	}
	return nil
}

// SlotBySlot returns the configuration entry for a 1-based slot number.
func (c *CrateConfig) SlotBySlot(slot int) (SlotConfig, bool) {
	for _, s := range c.Slots {
		if s.Slot == slot {
			return s, true
		}
	}
	return SlotConfig{}, false
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
