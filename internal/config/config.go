// Package config holds the configuration for the tool server and the
// orchestrator. Values resolve in three layers: built-in defaults, an
// optional YAML file, then environment variables. The environment layer
// wins so both processes run with no file present.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Server configures the tool server process.
type Server struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	NTP           NTP     `yaml:"ntp"`
	Sun           Sun     `yaml:"sun"`
	Redis         Redis   `yaml:"redis"`
	HomeAssistant HA      `yaml:"home_assistant"`
	Tracing       Tracing `yaml:"tracing"`
}

// Orchestrator configures the chat orchestrator process.
type Orchestrator struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	LLM           LLM     `yaml:"llm"`
	ToolServerURL string  `yaml:"tool_server_url"`
	WhisperURL    string  `yaml:"whisper_url"`
	Redis         Redis   `yaml:"redis"`
	MySQL         MySQL   `yaml:"mysql"`
	StatsSchedule string  `yaml:"stats_schedule"`
	Router        Router  `yaml:"router"`
	Tracing       Tracing `yaml:"tracing"`
}

// NTP configures the network time effector.
type NTP struct {
	Server        string        `yaml:"server"`
	BackupServer  string        `yaml:"backup_server"`
	Timeout       time.Duration `yaml:"timeout"`
	LocalTimezone string        `yaml:"local_timezone"`
}

// Sun configures the sunrise/sunset effector.
type Sun struct {
	BaseURL          string  `yaml:"base_url"`
	DefaultLatitude  float64 `yaml:"default_latitude"`
	DefaultLongitude float64 `yaml:"default_longitude"`
}

// Redis configures the key/value store used for the Home Assistant state
// cache (server) and the ephemeral interaction log (orchestrator).
type Redis struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port dial address.
func (r Redis) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// HA configures the Home Assistant synchronizer. An empty URL or Token
// leaves the synchronizer in the not_configured state.
type HA struct {
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Configured reports whether both the URL and token are present.
func (h HA) Configured() bool {
	return h.URL != "" && h.Token != ""
}

// LLM configures the language model provider.
type LLM struct {
	URL      string `yaml:"url"`
	Model    string `yaml:"model"`
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
}

// MySQL configures the durable feedback store. When not configured the
// orchestrator still serves chat; feedback persistence is disabled.
type MySQL struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	PoolSize int    `yaml:"pool_size"`
}

// Configured reports whether enough fields are set to open a pool.
func (m MySQL) Configured() bool {
	return m.Host != "" && m.Database != "" && m.User != ""
}

// DSN renders the go-sql-driver DSN.
func (m MySQL) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&charset=utf8mb4",
		m.User, m.Password, net.JoinHostPort(m.Host, strconv.Itoa(m.Port)), m.Database)
}

// Router holds the shortcut keyword lists. Empty lists fall back to the
// built-in defaults; the lists are tuning parameters, not a contract.
type Router struct {
	TimeKeywords   []string `yaml:"time_keywords"`
	LightKeywords  []string `yaml:"light_keywords"`
	SwitchKeywords []string `yaml:"switch_keywords"`
	PingKeywords   []string `yaml:"ping_keywords"`
}

// Tracing configures the optional OTLP trace exporter.
type Tracing struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// DefaultServer returns the server config defaults.
func DefaultServer() *Server {
	return &Server{
		Port:     8000,
		LogLevel: "info",
		NTP: NTP{
			Server:        "pool.ntp.org",
			BackupServer:  "time.google.com",
			Timeout:       5 * time.Second,
			LocalTimezone: "America/Los_Angeles",
		},
		Sun: Sun{
			BaseURL:          "https://api.sunrise-sunset.org/json",
			DefaultLatitude:  37.7749,
			DefaultLongitude: -122.4194,
		},
		Redis: Redis{
			Host: "localhost",
			Port: 6379,
		},
		HomeAssistant: HA{
			CacheTTL: 30 * time.Second,
		},
	}
}

// DefaultOrchestrator returns the orchestrator config defaults.
func DefaultOrchestrator() *Orchestrator {
	return &Orchestrator{
		Port:     8001,
		LogLevel: "info",
		LLM: LLM{
			URL:      "http://localhost:11434",
			Model:    "llama3.2",
			Provider: "ollama",
		},
		ToolServerURL: "http://localhost:8000",
		WhisperURL:    "localhost:10300",
		Redis: Redis{
			Host: "localhost",
			Port: 6379,
		},
		MySQL: MySQL{
			Port:     3306,
			PoolSize: 5,
		},
		StatsSchedule: "@daily",
	}
}

// Validate checks the server config for values that cannot work.
func (c *Server) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.NTP.Timeout <= 0 {
		return fmt.Errorf("config: ntp timeout must be positive")
	}
	if c.HomeAssistant.CacheTTL <= 0 {
		return fmt.Errorf("config: ha cache_ttl must be positive")
	}
	return nil
}

// Validate checks the orchestrator config for values that cannot work.
func (c *Orchestrator) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.LLM.Provider != "ollama" && c.LLM.Provider != "openai" {
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.ToolServerURL == "" {
		return fmt.Errorf("config: tool_server_url is required")
	}
	return nil
}
