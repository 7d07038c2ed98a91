package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	WSURL      string `mapstructure:"WS_URL"`
	AuthToken  string `mapstructure:"AUTH_TOKEN"`

	ServerPort string `mapstructure:"SERVER_PORT"`
	PageSize   int    `mapstructure:"PAGE_SIZE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	ArchivePath string `mapstructure:"ARCHIVE_PATH"`

	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`
	S3BucketName      string `mapstructure:"S3_BUCKET_NAME"`
}

func Load() (*Config, error) {
	viper.AddConfigPath("./")
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}

	if cfg.WSURL == "" {
		return nil, fmt.Errorf("WS_URL is required")
	}

	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("AUTH_TOKEN is required")
	}

	if cfg.ServerPort == "" {
		return nil, fmt.Errorf("SERVER_PORT is required")
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}

	return &cfg, nil
}
