package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string           `mapstructure:"APP_NAME"`
	AppVersion string           `mapstructure:"APP_VERSION"`
	Database   DatabaseConfig   `mapstructure:"DATABASE"`
	Kafka      KafkaConfig      `mapstructure:"KAFKA"`
	NATS       NATSConfig       `mapstructure:"NATS"`
	Redis      RedisConfig      `mapstructure:"REDIS"`
	Log        LogConfig        `mapstructure:"LOG"`
	Dispatcher DispatcherConfig `mapstructure:"DISPATCHER"`
}

// DatabaseConfig holds configuration for the database.
// Type is "postgres" for deployments; "sqlite" is used for local runs and tests.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"`
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
	Path     string `mapstructure:"PATH"` // sqlite 数据库文件路径
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Brokers               []string      `mapstructure:"BROKERS"`
	ClientID              string        `mapstructure:"CLIENT_ID"`
	Protocol              string        `mapstructure:"PROTOCOL"`
	InviteTopic           string        `mapstructure:"INVITE_TOPIC"`            // 胶囊邀请通知
	KnowledgeRefreshTopic string        `mapstructure:"KNOWLEDGE_REFRESH_TOPIC"` // 派生知识刷新任务
	DeliveryTimeout       time.Duration `mapstructure:"DELIVERY_TIMEOUT"`
}

// NATSConfig holds configuration for the realtime graph event bus.
type NATSConfig struct {
	URL           string        `mapstructure:"URL"`
	SubjectPrefix string        `mapstructure:"SUBJECT_PREFIX"`
	MaxReconnects int           `mapstructure:"MAX_RECONNECTS"`
	ReconnectWait time.Duration `mapstructure:"RECONNECT_WAIT"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr          string        `mapstructure:"ADDR"`
	Password      string        `mapstructure:"PASSWORD"`
	DB            int           `mapstructure:"DB"`
	RefreshWindow time.Duration `mapstructure:"REFRESH_WINDOW"` // 同一胶囊知识刷新的合并窗口
}

// LogConfig holds configuration for the zap logger.
type LogConfig struct {
	Level      string `mapstructure:"LEVEL"`
	Filename   string `mapstructure:"FILENAME"`
	MaxSize    int    `mapstructure:"MAX_SIZE"`
	MaxBackups int    `mapstructure:"MAX_BACKUPS"`
	MaxAge     int    `mapstructure:"MAX_AGE"`
	Compress   bool   `mapstructure:"COMPRESS"`
}

// DispatcherConfig sizes the background side-effect worker pool.
type DispatcherConfig struct {
	Workers   int `mapstructure:"WORKERS"`
	QueueSize int `mapstructure:"QUEUE_SIZE"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "capsule-go")
	v.SetDefault("APP_VERSION", "0.1.0")

	// Database Defaults (PostgreSQL)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "capsule_db")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.PATH", "capsule.db")
	v.SetDefault("DATABASE.LOG_LEVEL", "warn")

	// Kafka Defaults
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "capsule-go")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")
	v.SetDefault("KAFKA.INVITE_TOPIC", "capsule-invites")
	v.SetDefault("KAFKA.KNOWLEDGE_REFRESH_TOPIC", "capsule-knowledge-refresh")
	v.SetDefault("KAFKA.DELIVERY_TIMEOUT", 5*time.Second)

	// NATS Defaults
	v.SetDefault("NATS.URL", "nats://localhost:4222")
	v.SetDefault("NATS.SUBJECT_PREFIX", "graph.events")
	v.SetDefault("NATS.MAX_RECONNECTS", 10)
	v.SetDefault("NATS.RECONNECT_WAIT", 2*time.Second)

	// Redis Defaults
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.REFRESH_WINDOW", 30*time.Second)

	// Log Defaults
	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("LOG.FILENAME", "")
	v.SetDefault("LOG.MAX_SIZE", 100) // MB
	v.SetDefault("LOG.MAX_BACKUPS", 5)
	v.SetDefault("LOG.MAX_AGE", 30) // days
	v.SetDefault("LOG.COMPRESS", true)

	// Dispatcher Defaults
	v.SetDefault("DISPATCHER.WORKERS", 4)
	v.SetDefault("DISPATCHER.QUEUE_SIZE", 1024)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	// For nested structs, viper uses underscore: DATABASE_HOST, KAFKA_INVITE_TOPIC
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return
		}
		// Config file not found; defaults apply
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
