package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no config path is given.
const DefaultPath = "configs/config.yaml"

type Config struct {
	Server struct {
		Address             string   `yaml:"address"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		CORSOrigins         []string `yaml:"cors_origins"`

		// TrustedProxies lists the addresses or CIDRs of reverse proxies whose
		// X-Forwarded-For header is believed. Empty means the peer address is
		// always the client.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Booking struct {
		Timezone           string `yaml:"timezone"`
		WindowDays         int    `yaml:"window_days"`
		SubmitPerMinute    int    `yaml:"submit_per_minute"`
		SubmitBurst        int    `yaml:"submit_burst"`
		AvailabilityPath   string `yaml:"availability_path"`
		ReloadIntervalSecs int    `yaml:"reload_interval_seconds"`
	} `yaml:"booking"`

	Auth struct {
		JWTSecret     string   `yaml:"jwt_secret"`
		Issuer        string   `yaml:"issuer"`
		TokenTTLHours int      `yaml:"token_ttl_hours"`
		Admins        []string `yaml:"admins"`
	} `yaml:"auth"`

	Redis RedisConfig `yaml:"redis"`

	Telegram struct {
		Enabled      bool    `yaml:"enabled"`
		BotToken     string  `yaml:"bot_token"`
		ManagerChats []int64 `yaml:"manager_chats"`
	} `yaml:"telegram"`

	Email struct {
		Enabled     bool   `yaml:"enabled"`
		APIKey      string `yaml:"sendgrid_api_key"`
		FromName    string `yaml:"from_name"`
		FromAddress string `yaml:"from_address"`
	} `yaml:"email"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		SheetName       string `yaml:"sheet_name"`
	} `yaml:"sheets"`

	Backup BackupConfig `yaml:"backup"`

	Reminders struct {
		Enabled              bool `yaml:"enabled"`
		HoursBefore          int  `yaml:"hours_before"`
		CheckIntervalMinutes int  `yaml:"check_interval_minutes"`
	} `yaml:"reminders"`

	Audit struct {
		MonthlyReport bool   `yaml:"monthly_report"`
		Schedule      string `yaml:"schedule"`
	} `yaml:"audit"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
		GRPCPort          int  `yaml:"grpc_port"` // 0 disables the gRPC health server
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console | json
	} `yaml:"logging"`
}

type RedisConfig struct {
	Address        string `yaml:"address"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	SlotTTLSeconds int    `yaml:"slot_ttl_seconds"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads the YAML config at path, expanding ${ENV} placeholders, and applies defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes config data and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 15
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/appointdesk.db"
	}
	if c.Booking.WindowDays <= 0 {
		c.Booking.WindowDays = 30
	}
	if c.Booking.SubmitPerMinute <= 0 {
		c.Booking.SubmitPerMinute = 10
	}
	if c.Booking.SubmitBurst <= 0 {
		c.Booking.SubmitBurst = 5
	}
	if c.Booking.AvailabilityPath == "" {
		c.Booking.AvailabilityPath = "configs/availability.yaml"
	}
	if c.Booking.ReloadIntervalSecs <= 0 {
		c.Booking.ReloadIntervalSecs = 30
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "appointdesk"
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 12
	}
	if c.Redis.SlotTTLSeconds <= 0 {
		c.Redis.SlotTTLSeconds = 60
	}
	if c.Sheets.SheetName == "" {
		c.Sheets.SheetName = "Appointments"
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "@daily"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 14
	}
	if c.Audit.Schedule == "" {
		c.Audit.Schedule = "0 9 1 * *"
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	if c.Email.Enabled && (c.Email.APIKey == "" || c.Email.FromAddress == "") {
		return fmt.Errorf("email.sendgrid_api_key and email.from_address are required when email is enabled")
	}
	if c.Reminders.Enabled && !c.Email.Enabled {
		return fmt.Errorf("reminders require email to be enabled")
	}
	if c.Audit.MonthlyReport && !c.Telegram.Enabled {
		return fmt.Errorf("audit.monthly_report requires telegram to be enabled")
	}
	if c.Sheets.Enabled && (c.Sheets.CredentialsFile == "" || c.Sheets.SpreadsheetID == "") {
		return fmt.Errorf("sheets.credentials_file and sheets.spreadsheet_id are required when sheets is enabled")
	}
	if _, err := c.TrustedProxyNets(); err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// EnsureDirs creates the directories the database and backups live in.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(filepath.Dir(c.Database.Path), 0o755); err != nil {
		return err
	}
	if c.Backup.Enabled {
		return os.MkdirAll(c.Backup.Path, 0o755)
	}
	return nil
}

// Location returns the timezone "today" is evaluated in.
func (c *Config) Location() (*time.Location, error) {
	if c.Booking.Timezone == "" || c.Booking.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Booking.Timezone)
}

// TrustedProxyNets parses server.trusted_proxies. Bare addresses become
// single-host networks.
func (c *Config) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.Server.TrustedProxies))
	for _, entry := range c.Server.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid address %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, nil
}

func (c *Config) ReloadInterval() time.Duration {
	return time.Duration(c.Booking.ReloadIntervalSecs) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

func (c *Config) SlotCacheTTL() time.Duration {
	return time.Duration(c.Redis.SlotTTLSeconds) * time.Second
}
