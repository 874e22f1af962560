package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Scraper ScraperConfig
	Proxy   ProxyConfig
	Redis   RedisConfig
	History HistoryConfig
	Cache   CacheConfig
	Worker  WorkerConfig
}

type WorkerConfig struct {
	CoordinatorURL string
}

type ServerConfig struct {
	Port        int
	WaitTimeout time.Duration
}

// ScraperConfig carries every pacing and recovery knob of the worker loop.
// The historical scraper variants differed only in these values.
type ScraperConfig struct {
	Headless             bool
	Mode                 string // "api" or "html"
	NavTimeout           time.Duration
	TaskBatchSize        int
	PollInterval         time.Duration
	BatchSize            int
	RequestDelayMin      time.Duration
	RequestDelayMax      time.Duration
	BatchPause           time.Duration
	BlockCooldown        time.Duration
	RotateWaitMin        time.Duration
	RotateWaitMax        time.Duration
	CooldownPause        time.Duration
	MaxConsecutiveBlocks int
	RetriesPerTarget     int
}

type ProxyConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Username       string
	Password       string
	RefreshURL     string
	RotateCooldown time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type HistoryConfig struct {
	DSN string
}

type CacheConfig struct {
	Size int
	TTL  time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 8085),
			WaitTimeout: getEnvDuration("PARSE_WAIT_TIMEOUT", 90*time.Second),
		},
		Scraper: ScraperConfig{
			Headless:             getEnvBool("SCRAPER_HEADLESS", true),
			Mode:                 getEnv("SCRAPER_MODE", "api"),
			NavTimeout:           getEnvDuration("SCRAPER_NAV_TIMEOUT", 25*time.Second),
			TaskBatchSize:        getEnvInt("SCRAPER_TASK_BATCH", 20),
			PollInterval:         getEnvDuration("SCRAPER_POLL_INTERVAL", 5*time.Second),
			BatchSize:            getEnvInt("SCRAPER_BATCH_SIZE", 3),
			RequestDelayMin:      getEnvDuration("SCRAPER_DELAY_MIN", 12*time.Second),
			RequestDelayMax:      getEnvDuration("SCRAPER_DELAY_MAX", 20*time.Second),
			BatchPause:           getEnvDuration("SCRAPER_BATCH_PAUSE", 60*time.Second),
			BlockCooldown:        getEnvDuration("SCRAPER_BLOCK_COOLDOWN", 30*time.Second),
			RotateWaitMin:        getEnvDuration("SCRAPER_ROTATE_WAIT_MIN", 20*time.Second),
			RotateWaitMax:        getEnvDuration("SCRAPER_ROTATE_WAIT_MAX", 35*time.Second),
			CooldownPause:        getEnvDuration("SCRAPER_COOLDOWN_PAUSE", 60*time.Second),
			MaxConsecutiveBlocks: getEnvInt("SCRAPER_MAX_BLOCKS", 4),
			RetriesPerTarget:     getEnvInt("SCRAPER_RETRIES", 2),
		},
		Proxy: ProxyConfig{
			Enabled:        getEnvBool("PROXY_ENABLED", false),
			Host:           getEnv("PROXY_HOST", ""),
			Port:           getEnv("PROXY_PORT", ""),
			Username:       getEnv("PROXY_USERNAME", ""),
			Password:       getEnv("PROXY_PASSWORD", ""),
			RefreshURL:     getEnv("PROXY_REFRESH_URL", ""),
			RotateCooldown: getEnvDuration("PROXY_ROTATE_COOLDOWN", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Stream:   getEnv("REDIS_STREAM", "stream:price_updates"),
		},
		History: HistoryConfig{
			DSN: getEnv("HISTORY_DSN", ""),
		},
		Cache: CacheConfig{
			Size: getEnvInt("PRICE_CACHE_SIZE", 2048),
			TTL:  getEnvDuration("PRICE_CACHE_TTL", 30*time.Minute),
		},
		Worker: WorkerConfig{
			CoordinatorURL: getEnv("COORDINATOR_URL", "http://localhost:8085"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.Mode != "api" && c.Scraper.Mode != "html" {
		return fmt.Errorf("invalid scraper mode: %q", c.Scraper.Mode)
	}

	if c.Scraper.TaskBatchSize < 1 {
		return fmt.Errorf("task batch size must be at least 1")
	}

	if c.Scraper.RequestDelayMax < c.Scraper.RequestDelayMin {
		return fmt.Errorf("request delay max %v is below min %v",
			c.Scraper.RequestDelayMax, c.Scraper.RequestDelayMin)
	}

	if c.Scraper.RetriesPerTarget < 0 {
		return fmt.Errorf("retries per target must not be negative")
	}

	if c.Proxy.Enabled && (c.Proxy.Host == "" || c.Proxy.Port == "") {
		return fmt.Errorf("proxy enabled but host/port not set")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// plain integers mean seconds, matching the old deployments
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
