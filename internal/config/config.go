package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Redis         RedisConfig         `json:"redis" yaml:"redis"`
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	Store         StoreConfig         `json:"store" yaml:"store"`
	Elasticsearch ElasticsearchConfig `json:"elasticsearch" yaml:"elasticsearch"`
	Monitor       MonitorConfig       `json:"monitor" yaml:"monitor"`
	Thresholds    ThresholdsConfig    `json:"thresholds" yaml:"thresholds"`
	Notifier      NotifierConfig      `json:"notifier" yaml:"notifier"`
	API           APIConfig           `json:"api" yaml:"api"`
}

type ServerConfig struct {
	BindAddr string `json:"bindAddr" yaml:"bindAddr"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type DatabaseConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"dbname" yaml:"dbname"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// StoreConfig selects the alert history backend.
type StoreConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // redis | postgres
	Key      string `json:"key" yaml:"key"`       // redis list key
	Capacity int    `json:"capacity" yaml:"capacity"`
}

type ElasticsearchConfig struct {
	Addresses    []string `json:"addresses" yaml:"addresses"`
	Username     string   `json:"username" yaml:"username"`
	Password     string   `json:"password" yaml:"password"`
	IndexPattern string   `json:"indexPattern" yaml:"indexPattern"`
	Timeout      string   `json:"timeout" yaml:"timeout"` // e.g. "10s"
}

type MonitorConfig struct {
	Interval    string `json:"interval" yaml:"interval"` // e.g. "30s"
	Environment string `json:"environment" yaml:"environment"`
}

// ThresholdsConfig holds the detector boundaries. Windows are duration strings.
type ThresholdsConfig struct {
	ErrorSpikeWindow string `json:"errorSpikeWindow" yaml:"errorSpikeWindow"`
	ErrorSpikeCount  int    `json:"errorSpikeCount" yaml:"errorSpikeCount"`
	PerSourceWindow  string `json:"perSourceWindow" yaml:"perSourceWindow"`
	PerSourceCount   int    `json:"perSourceCount" yaml:"perSourceCount"`
	PerSourceTopN    int    `json:"perSourceTopN" yaml:"perSourceTopN"`
	LatencyWindow    string `json:"latencyWindow" yaml:"latencyWindow"`
	LatencyFloorMs   int    `json:"latencyFloorMs" yaml:"latencyFloorMs"`
	LatencyCount     int    `json:"latencyCount" yaml:"latencyCount"`
}

type NotifierConfig struct {
	SlackWebhookURL string `json:"slackWebhookURL" yaml:"slackWebhookURL"`
	Timeout         string `json:"timeout" yaml:"timeout"`
}

type APIConfig struct {
	Token               string `json:"token" yaml:"token"` // bearer token for write endpoints, optional
	TestAlertRatePerMin int    `json:"testAlertRatePerMin" yaml:"testAlertRatePerMin"`
	TestAlertBurst      int    `json:"testAlertBurst" yaml:"testAlertBurst"`
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file (.json, .yaml)")
	flag.Parse()

	cfg := FromEnv()
	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			log.Err(err).Msg("load config file failed")
			return nil, err
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// FromEnv builds a config from environment variables only.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddr: getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "logmon"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Store: StoreConfig{
			Driver:   getEnv("ALERT_STORE_DRIVER", "redis"),
			Key:      getEnv("ALERT_STORE_KEY", "alerts"),
			Capacity: getEnvInt("ALERT_STORE_CAPACITY", 1000),
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:    splitList(getEnv("ELASTICSEARCH_URL", "http://localhost:9200")),
			Username:     getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:     getEnv("ELASTICSEARCH_PASSWORD", ""),
			IndexPattern: getEnv("LOG_INDEX_PATTERN", "logs-*"),
			Timeout:      getEnv("ELASTICSEARCH_TIMEOUT", "10s"),
		},
		Monitor: MonitorConfig{
			Interval:    getEnv("MONITOR_INTERVAL", "30s"),
			Environment: getEnv("MONITOR_ENVIRONMENT", "production"),
		},
		Thresholds: ThresholdsConfig{
			ErrorSpikeWindow: getEnv("ERROR_SPIKE_WINDOW", "5m"),
			ErrorSpikeCount:  getEnvInt("ERROR_SPIKE_COUNT", 20),
			PerSourceWindow:  getEnv("SERVICE_ERROR_WINDOW", "5m"),
			PerSourceCount:   getEnvInt("SERVICE_ERROR_COUNT", 10),
			PerSourceTopN:    getEnvInt("SERVICE_ERROR_TOP_N", 50),
			LatencyWindow:    getEnv("SLOW_RESPONSE_WINDOW", "5m"),
			LatencyFloorMs:   getEnvInt("SLOW_RESPONSE_FLOOR_MS", 1000),
			LatencyCount:     getEnvInt("SLOW_RESPONSE_COUNT", 5),
		},
		Notifier: NotifierConfig{
			SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			Timeout:         getEnv("NOTIFIER_TIMEOUT", "10s"),
		},
		API: APIConfig{
			Token:               getEnv("API_TOKEN", ""),
			TestAlertRatePerMin: getEnvInt("TEST_ALERT_RATE_PER_MIN", 10),
			TestAlertBurst:      getEnvInt("TEST_ALERT_BURST", 5),
		},
	}
}

// fill reasonable defaults when fields omitted in file
func (cfg *Config) applyDefaults() {
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "redis"
	}
	if cfg.Store.Key == "" {
		cfg.Store.Key = "alerts"
	}
	if cfg.Store.Capacity <= 0 {
		cfg.Store.Capacity = 1000
	}
	if len(cfg.Elasticsearch.Addresses) == 0 {
		cfg.Elasticsearch.Addresses = []string{"http://localhost:9200"}
	}
	if cfg.Elasticsearch.IndexPattern == "" {
		cfg.Elasticsearch.IndexPattern = "logs-*"
	}
	if cfg.Elasticsearch.Timeout == "" {
		cfg.Elasticsearch.Timeout = "10s"
	}
	if cfg.Monitor.Interval == "" {
		cfg.Monitor.Interval = "30s"
	}
	if cfg.Monitor.Environment == "" {
		cfg.Monitor.Environment = "production"
	}
	t := &cfg.Thresholds
	if t.ErrorSpikeWindow == "" {
		t.ErrorSpikeWindow = "5m"
	}
	if t.ErrorSpikeCount == 0 {
		t.ErrorSpikeCount = 20
	}
	if t.PerSourceWindow == "" {
		t.PerSourceWindow = "5m"
	}
	if t.PerSourceCount == 0 {
		t.PerSourceCount = 10
	}
	if t.PerSourceTopN == 0 {
		t.PerSourceTopN = 50
	}
	if t.LatencyWindow == "" {
		t.LatencyWindow = "5m"
	}
	if t.LatencyFloorMs == 0 {
		t.LatencyFloorMs = 1000
	}
	if t.LatencyCount == 0 {
		t.LatencyCount = 5
	}
	if cfg.Notifier.Timeout == "" {
		cfg.Notifier.Timeout = "10s"
	}
	if cfg.API.TestAlertRatePerMin == 0 {
		cfg.API.TestAlertRatePerMin = 10
	}
	if cfg.API.TestAlertBurst == 0 {
		cfg.API.TestAlertBurst = 5
	}
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
