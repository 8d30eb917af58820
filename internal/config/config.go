package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	AI       AIConfig       `mapstructure:"ai"`
	Search   SearchConfig   `mapstructure:"search"`
	Import   ImportConfig   `mapstructure:"import"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"` // sqlite file path
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // s3, r2, s3compatible
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type AIConfig struct {
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
}

type SearchConfig struct {
	EngineA SearchEngineConfig `mapstructure:"engine_a"`
	EngineB SearchEngineConfig `mapstructure:"engine_b"`
}

type SearchEngineConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type ImportConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`  // records per checkpoint
	ChunkLimit       int           `mapstructure:"chunk_limit"` // records per chunk invocation
	MaxChunkRetries  int           `mapstructure:"max_chunk_retries"`
	MaxDownloadTries int           `mapstructure:"max_download_tries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	DefaultCurrency  string        `mapstructure:"default_currency"`
}

type QueueConfig struct {
	MaxItems    int           `mapstructure:"max_items"`
	Parallelism int           `mapstructure:"parallelism"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	Interval    time.Duration `mapstructure:"interval"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/prodsync.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.type", "s3compatible")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "import-checkpoints")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("import.batch_size", 1000)
	v.SetDefault("import.chunk_limit", 1000)
	v.SetDefault("import.max_chunk_retries", 3)
	v.SetDefault("import.max_download_tries", 3)
	v.SetDefault("import.retry_delay", time.Second)
	v.SetDefault("import.default_currency", "EUR")
	v.SetDefault("queue.max_items", 20)
	v.SetDefault("queue.parallelism", 3)
	v.SetDefault("queue.task_timeout", 10*time.Minute)
	v.SetDefault("queue.interval", time.Minute)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	v.BindEnv("ai.api_key", "OPENAI_API_KEY")
	v.BindEnv("ai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("ai.model", "AI_MODEL")
	v.BindEnv("search.engine_a.api_key", "SEARCH_ENGINE_A_API_KEY")
	v.BindEnv("search.engine_a.base_url", "SEARCH_ENGINE_A_BASE_URL")
	v.BindEnv("search.engine_b.api_key", "SEARCH_ENGINE_B_API_KEY")
	v.BindEnv("search.engine_b.base_url", "SEARCH_ENGINE_B_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ConnString returns the connection string for the configured driver.
func (c *DatabaseConfig) ConnString() string {
	if c.Driver == "postgres" {
		return c.DSN
	}
	return c.Path
}
