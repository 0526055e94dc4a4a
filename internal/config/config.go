package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig 启动配置不合法，初始化必须中止
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Economy  EconomyConfig  `mapstructure:"economy"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig 数据库驱动与连接参数，Path 仅 sqlite 使用
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// EconomyConfig 写合并管道参数，启动时读取一次
type EconomyConfig struct {
	WorkerThreads int           `mapstructure:"worker_threads"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	PageSize      int           `mapstructure:"page_size"`
	MaxQueueSize  int           `mapstructure:"max_queue_size"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	CommitTimeout time.Duration `mapstructure:"commit_timeout"`
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
	EarnCooldown  time.Duration `mapstructure:"earn_cooldown"`
	EarnMin       int64         `mapstructure:"earn_min"`
	EarnMax       int64         `mapstructure:"earn_max"`
	Operators     []string      `mapstructure:"operators"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var GlobalConfig *Config

// Drivers 可接受的驱动名 -> gorm 方言（h2 为兼容旧配置，映射到嵌入式 sqlite）
var Drivers = map[string]string{
	"mysql":      "mysql",
	"mariadb":    "mysql",
	"postgres":   "postgres",
	"postgresql": "postgres",
	"sqlite":     "sqlite",
	"h2":         "sqlite",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/economy.db")
	v.SetDefault("database.port", 0) // 0 表示按方言取默认端口
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.topic", "economy.balance")

	v.SetDefault("economy.worker_threads", 1)
	v.SetDefault("economy.flush_interval", 50*time.Millisecond)
	v.SetDefault("economy.page_size", 48)
	v.SetDefault("economy.max_queue_size", 0)
	v.SetDefault("economy.max_attempts", 5)
	v.SetDefault("economy.commit_timeout", 10*time.Second)
	v.SetDefault("economy.load_timeout", 5*time.Second)
	v.SetDefault("economy.earn_cooldown", time.Minute)
	v.SetDefault("economy.earn_min", 1)
	v.SetDefault("economy.earn_max", 4)

	v.SetDefault("log.level", "info")
}

// LoadConfig 加载配置文件
//
// configPath 为空时只使用默认值和环境变量；工作目录下存在 .env 时先载入环境
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: load .env: %v", ErrInvalidConfig, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ECONOMY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("economy.page_size", "ECONOMY_QUEUE_PAGE_SIZE")
	_ = v.BindEnv("economy.worker_threads", "ECONOMY_WORKER_THREADS")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, configPath, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = config
	return config, nil
}

// Validate 校验配置，任何错误都包装为 ErrInvalidConfig
func (c *Config) Validate() error {
	if _, ok := Drivers[strings.ToLower(c.Database.Driver)]; !ok {
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}

	e := c.Economy
	switch {
	case e.WorkerThreads <= 0:
		return fmt.Errorf("%w: economy.worker_threads must be positive", ErrInvalidConfig)
	case e.PageSize <= 0:
		return fmt.Errorf("%w: economy.page_size must be positive", ErrInvalidConfig)
	case e.FlushInterval <= 0:
		return fmt.Errorf("%w: economy.flush_interval must be positive", ErrInvalidConfig)
	case e.MaxQueueSize < 0:
		return fmt.Errorf("%w: economy.max_queue_size must not be negative", ErrInvalidConfig)
	case e.MaxAttempts <= 0:
		return fmt.Errorf("%w: economy.max_attempts must be positive", ErrInvalidConfig)
	case e.EarnMin <= 0 || e.EarnMax < e.EarnMin:
		return fmt.Errorf("%w: economy.earn_min/earn_max out of range", ErrInvalidConfig)
	}

	for _, op := range e.Operators {
		if _, err := uuid.Parse(op); err != nil {
			return fmt.Errorf("%w: economy.operators: %q is not a uuid", ErrInvalidConfig, op)
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka.brokers required when kafka is enabled", ErrInvalidConfig)
	}
	return nil
}

// Dialect 返回驱动对应的 gorm 方言
func (d DatabaseConfig) Dialect() string {
	return Drivers[strings.ToLower(d.Driver)]
}
