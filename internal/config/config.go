// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Assetstore AssetstoreConfig `mapstructure:"assetstore"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	// Driver 为 "mysql"（默认）或 "memory"（仅用于本地开发）。
	Driver string      `mapstructure:"driver"`
	MySQL  MySQLConfig `mapstructure:"mysql"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	// AdminLogin 非空时，启动时若该用户不存在则创建为管理员并输出其 token。
	AdminLogin string `mapstructure:"admin_login"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// UploadConfig 存储上传相关的配置。
type UploadConfig struct {
	// ChunkLockTTL 是单个分片写入锁的最长持有时间。
	ChunkLockTTL time.Duration `mapstructure:"chunk_lock_ttl"`
	// StaleAge 超过该时长未完成的上传会被定时任务取消。
	StaleAge time.Duration `mapstructure:"stale_age"`
}

// ScheduleConfig 存储定时任务的 cron 表达式，留空表示不启用。
type ScheduleConfig struct {
	StaleUploadCleanup string `mapstructure:"stale_upload_cleanup"`
	RecalculateSizes   string `mapstructure:"recalculate_sizes"`
}

// AssetstoreConfig 存储首次启动时自动创建的默认存储配置。
type AssetstoreConfig struct {
	Bootstrap BootstrapAssetstore `mapstructure:"bootstrap"`
}

// BootstrapAssetstore 描述一个存储后端。
type BootstrapAssetstore struct {
	Name            string `mapstructure:"name"`
	Type            string `mapstructure:"type"`
	Root            string `mapstructure:"root"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// Load 从指定路径读取 YAML 配置并填充默认值。
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "data.process")
	v.SetDefault("kafka.group_id", "datavault-data-process")
	v.SetDefault("upload.chunk_lock_ttl", "5m")
	v.SetDefault("upload.stale_age", "72h")
	v.SetDefault("jwt.access_token_expire_hours", 24)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
