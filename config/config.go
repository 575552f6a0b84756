package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	TrackSync TrackSyncConfig `yaml:"tracksync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	Username string `yaml:"username" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	DBName   string `yaml:"name" env:"DB_NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSL_MODE"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host" env:"KAFKA_HOST"`
	Port                   int    `yaml:"port" env:"KAFKA_PORT"`
	SyncRequestedTopicName string `yaml:"sync_requested_topic_name"`
	SyncEventsTopicName    string `yaml:"sync_events_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host" env:"REDIS_HOST"`
	Port int    `yaml:"port" env:"REDIS_PORT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"` // "json" | "console"
}

type WorkerAccount struct {
	AccountID string `yaml:"account_id"`
	Mode      string `yaml:"mode"`
}

// Endpoints holds the values that deployments usually override from the environment.
type Endpoints struct {
	Storage            string `yaml:"storage" env:"TRACKSYNC_STORAGE"` // "postgres" | "memory"
	LogisticsBaseURL   string `yaml:"logistics_base_url" env:"LOGISTICS_BASE_URL"`
	LogisticsAPIKey    string `yaml:"logistics_api_key" env:"LOGISTICS_API_KEY"`
	MarketplaceBaseURL string `yaml:"marketplace_base_url" env:"MARKETPLACE_BASE_URL"`
	MarketplaceAPIKey  string `yaml:"marketplace_api_key" env:"MARKETPLACE_API_KEY"`
}

type TrackSyncConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	Endpoints `yaml:",inline"`

	MaxSessionSeconds        int `yaml:"max_session_seconds"`
	UploadConcurrency        int `yaml:"upload_concurrency"`
	UploadRateLimitPerMinute int `yaml:"upload_rate_limit_per_minute"`
	OrdersHoursBack          int `yaml:"orders_hours_back"`
	DeliveriesLookbackHours  int `yaml:"deliveries_lookback_hours"`

	// Matching. Zero values fall back to the matcher defaults, except match_margin:
	// there only a missing key means the default, 0 is a valid margin.
	MatchAcceptThreshold int  `yaml:"match_accept_threshold"`
	MatchMargin          *int `yaml:"match_margin"`
	MatchTimeWindowHours int  `yaml:"match_time_window_hours"`
	MatchNameWeight      int  `yaml:"match_name_weight"`
	MatchTimeWeight      int  `yaml:"match_time_weight"`
	MatchProductWeight   int  `yaml:"match_product_weight"`

	MarketplaceQPS float64 `yaml:"marketplace_qps"`

	WorkerHTTPAddr           string          `yaml:"worker_http_addr"`
	WorkerIntervalMinSeconds int             `yaml:"worker_interval_min_seconds"`
	WorkerIntervalMaxSeconds int             `yaml:"worker_interval_max_seconds"`
	WorkerAccounts           []WorkerAccount `yaml:"worker_accounts"`
}

// LoadConfig reads the YAML file and then applies environment overrides on top of it.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	for _, target := range []any{
		&config.Database,
		&config.Kafka,
		&config.Redis,
		&config.Log,
		&config.TrackSync.Endpoints,
	} {
		if err := env.Parse(target); err != nil {
			return nil, fmt.Errorf("failed to apply env overrides: %w", err)
		}
	}

	return &config, nil
}
