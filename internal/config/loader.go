package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadServer resolves the server config: defaults, then the optional
// YAML file at path (empty path skips the file layer), then environment.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrchestrator resolves the orchestrator config the same way.
func LoadOrchestrator(path string) (*Orchestrator, error) {
	cfg := DefaultOrchestrator()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file into cfg. Environment references of the
// form ${VAR} in the file are expanded before decoding. Unknown keys are
// an error so typos surface at startup instead of silently using defaults.
func loadFile(path string, cfg any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Server) applyEnv() {
	envInt("SERVER_PORT", &c.Port)
	envString("LOG_LEVEL", &c.LogLevel)

	envString("NTP_SERVER", &c.NTP.Server)
	envString("NTP_BACKUP_SERVER", &c.NTP.BackupServer)
	envSeconds("NTP_TIMEOUT", &c.NTP.Timeout)
	envString("LOCAL_TIMEZONE", &c.NTP.LocalTimezone)

	envFloat("SUN_DEFAULT_LAT", &c.Sun.DefaultLatitude)
	envFloat("SUN_DEFAULT_LNG", &c.Sun.DefaultLongitude)

	c.Redis.applyEnv()

	envString("HA_URL", &c.HomeAssistant.URL)
	envString("HA_TOKEN", &c.HomeAssistant.Token)
	envSeconds("HA_CACHE_TTL", &c.HomeAssistant.CacheTTL)

	envString("OTEL_ENDPOINT", &c.Tracing.Endpoint)
}

func (c *Orchestrator) applyEnv() {
	envInt("CLIENT_PORT", &c.Port)
	envString("LOG_LEVEL", &c.LogLevel)

	envString("LLM_URL", &c.LLM.URL)
	envString("LLM_MODEL", &c.LLM.Model)
	envString("LLM_PROVIDER", &c.LLM.Provider)
	envString("LLM_API_KEY", &c.LLM.APIKey)

	envString("TOOL_SERVER_URL", &c.ToolServerURL)
	envString("WHISPER_URL", &c.WhisperURL)
	envString("STATS_SCHEDULE", &c.StatsSchedule)

	c.Redis.applyEnv()

	envString("MYSQL_HOST", &c.MySQL.Host)
	envInt("MYSQL_PORT", &c.MySQL.Port)
	envString("MYSQL_DATABASE", &c.MySQL.Database)
	envString("MYSQL_USER", &c.MySQL.User)
	envString("MYSQL_PASSWORD", &c.MySQL.Password)
	envInt("MYSQL_POOL_SIZE", &c.MySQL.PoolSize)

	envString("OTEL_ENDPOINT", &c.Tracing.Endpoint)
}

func (r *Redis) applyEnv() {
	envString("REDIS_HOST", &r.Host)
	envInt("REDIS_PORT", &r.Port)
	envString("REDIS_PASSWORD", &r.Password)
	envInt("REDIS_DB", &r.DB)
}

func envString(key string, target *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}

func envInt(key string, target *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envFloat(key string, target *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

// envSeconds reads an integer number of seconds, matching the documented
// environment surface (NTP_TIMEOUT=5, HA_CACHE_TTL=30).
func envSeconds(key string, target *time.Duration) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*target = time.Duration(n) * time.Second
		}
	}
}
