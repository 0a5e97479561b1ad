package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultAPIBaseURL   = "http://localhost:8080"
	defaultLogLevel     = "info"
	defaultEnv          = "local"
	defaultConfigDir    = ".possync"
	defaultSyncInterval = 60
	defaultBatchSize    = 1000
	defaultMaxRetries   = 5
)

type Config struct {
	Env          string `mapstructure:"app_env"`
	APIBaseURL   string `mapstructure:"api_base_url"`
	LogLevel     string `mapstructure:"log_level"`
	ConfigDir    string `mapstructure:"config_dir"`
	DataPath     string `mapstructure:"data_path"`
	DeviceID     string `mapstructure:"device_id"`
	TenantID     string `mapstructure:"tenant_id"`
	SyncInterval int    `mapstructure:"sync_interval_seconds"`
	BatchSize    int    `mapstructure:"sync_batch_size"`
	MaxRetries   int    `mapstructure:"sync_max_retries"`
}

// MustLoad загружает конфигурацию клиента
func MustLoad() *Config {
	// Определяем путь к .env файлу (относительно места запуска)
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}

	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Printf("Ошибка загрузки .env файла: %v\n", err)
		}
	}

	viper.AutomaticEnv()

	viper.SetDefault("APP_ENV", defaultEnv)
	viper.SetDefault("API_BASE_URL", defaultAPIBaseURL)
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)
	viper.SetDefault("CONFIG_DIR", defaultConfigDir)
	viper.SetDefault("SYNC_INTERVAL_SECONDS", defaultSyncInterval)
	viper.SetDefault("SYNC_BATCH_SIZE", defaultBatchSize)
	viper.SetDefault("SYNC_MAX_RETRIES", defaultMaxRetries)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	configDir := viper.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		configDir = filepath.Join(homeDir, configDir)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		fmt.Printf("Ошибка создания директории конфигурации: %v\n", err)
	}

	dataPath := viper.GetString("DATA_PATH")
	if dataPath == "" {
		dataPath = filepath.Join(configDir, "pos.db")
	}

	config := &Config{
		Env:          viper.GetString("APP_ENV"),
		APIBaseURL:   viper.GetString("API_BASE_URL"),
		LogLevel:     viper.GetString("LOG_LEVEL"),
		ConfigDir:    configDir,
		DataPath:     dataPath,
		DeviceID:     viper.GetString("DEVICE_ID"),
		TenantID:     viper.GetString("TENANT_ID"),
		SyncInterval: viper.GetInt("SYNC_INTERVAL_SECONDS"),
		BatchSize:    viper.GetInt("SYNC_BATCH_SIZE"),
		MaxRetries:   viper.GetInt("SYNC_MAX_RETRIES"),
	}

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}

	return config
}

func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url не может быть пустым")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("device_id не может быть пустым")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("sync_batch_size должен быть положительным")
	}
	return nil
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == ""
}
