package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CreditEvents string `mapstructure:"credit_events"`
}

// 锁模式
const (
	LockModeRedis = "redis" // 多实例部署，Redis 分布式锁
	LockModeLocal = "local" // 单实例部署，进程内锁
)

// BusinessConfig 积分业务参数
type BusinessConfig struct {
	ExpirationInterval   time.Duration `mapstructure:"expiration_interval"`
	ExpirationBatchSize  int           `mapstructure:"expiration_batch_size"`
	SweepLockTTL         time.Duration `mapstructure:"sweep_lock_ttl"` // 扫描实例崩溃后锁最长保留时间，不超过扫描间隔
	ExpiringSoonDays     int           `mapstructure:"expiring_soon_days"`
	DefaultValidityDays  int           `mapstructure:"default_validity_days"`
	DefaultPaymentMethod string        `mapstructure:"default_payment_method"`
	AllowNegativeBalance bool          `mapstructure:"allow_negative_balance"`

	LockMode          string        `mapstructure:"lock_mode"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries    int           `mapstructure:"lock_max_retries"`

	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	MaxRetryCount   int           `mapstructure:"max_retry_count"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("kafka.topic.credit_events", "credit_events")

	v.SetDefault("business.expiration_interval", 24*time.Hour)
	v.SetDefault("business.expiration_batch_size", 200)
	v.SetDefault("business.sweep_lock_ttl", 30*time.Minute)
	v.SetDefault("business.expiring_soon_days", 7)
	v.SetDefault("business.default_validity_days", 90)
	v.SetDefault("business.default_payment_method", "manual")
	v.SetDefault("business.allow_negative_balance", false)
	v.SetDefault("business.lock_mode", LockModeRedis)
	v.SetDefault("business.lock_ttl", 30*time.Second)
	v.SetDefault("business.lock_retry_interval", 100*time.Millisecond)
	v.SetDefault("business.lock_max_retries", 50)
	v.SetDefault("business.outbox_interval", time.Second)
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.max_retry_count", 5)
}

// Default 返回只包含默认值的配置，测试和本地工具使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig 加载配置文件，环境变量 CREDIT_XXX_YYY 覆盖 xxx.yyy
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

// Validate 校验业务参数
func (c *Config) Validate() error {
	b := c.Business
	switch {
	case b.ExpirationInterval <= 0:
		return errors.New("config: business.expiration_interval 必须大于0")
	case b.ExpirationBatchSize <= 0:
		return errors.New("config: business.expiration_batch_size 必须大于0")
	case b.SweepLockTTL <= 0 || b.SweepLockTTL > b.ExpirationInterval:
		return errors.New("config: business.sweep_lock_ttl 必须大于0且不超过 expiration_interval")
	case b.ExpiringSoonDays <= 0:
		return errors.New("config: business.expiring_soon_days 必须大于0")
	case b.DefaultValidityDays < 1:
		return errors.New("config: business.default_validity_days 至少为1")
	case b.LockTTL <= 0 || b.LockRetryInterval <= 0 || b.LockMaxRetries <= 0:
		return errors.New("config: business.lock_* 必须大于0")
	case b.OutboxInterval <= 0 || b.OutboxBatchSize <= 0:
		return errors.New("config: business.outbox_* 必须大于0")
	}
	if b.LockMode != LockModeRedis && b.LockMode != LockModeLocal {
		return fmt.Errorf("config: 不支持的 business.lock_mode %q", b.LockMode)
	}
	return nil
}
