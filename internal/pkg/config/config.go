package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 让 time.Duration 可以直接以 "90s"、"5m" 的形式写在 YAML 里。
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config 是整个服务的配置树，从 YAML 文件加载，个别字段允许环境变量覆盖。
type Config struct {
	Service struct {
		Name string `yaml:"name"`
		Port int    `yaml:"port"`
	} `yaml:"service"`

	Infra struct {
		MySQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Kafka struct {
			Brokers           []string `yaml:"brokers"`
			PurchaseTopic     string   `yaml:"purchaseTopic"`
			NotificationTopic string   `yaml:"notificationTopic"`
			ConsumerGroup     string   `yaml:"consumerGroup"`
		} `yaml:"kafka"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Zookeeper struct {
			Addrs []string `yaml:"addrs"`
		} `yaml:"zookeeper"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Nacos struct {
			Addrs     string `yaml:"addrs"`
			Namespace string `yaml:"namespace"`
			Group     string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	Payment struct {
		Provider string `yaml:"provider"` // mock | paystack
		Paystack struct {
			BaseURL   string `yaml:"baseURL"`
			SecretKey string `yaml:"secretKey"`
		} `yaml:"paystack"`
		Mock struct {
			SuccessRate int `yaml:"successRate"`
		} `yaml:"mock"`
	} `yaml:"payment"`

	Pipeline struct {
		ProcessingTimeout Duration `yaml:"processingTimeout"`
		MaxAttempts       int      `yaml:"maxAttempts"`
		AttemptBackoff    Duration `yaml:"attemptBackoff"`
		LockBackend       string   `yaml:"lockBackend"` // redis | zookeeper
	} `yaml:"pipeline"`

	CashbackRetry struct {
		Interval    Duration `yaml:"interval"`
		Backoff     Duration `yaml:"backoff"`
		MaxAttempts int      `yaml:"maxAttempts"`
	} `yaml:"cashbackRetry"`
}

// Load 读取 path 指向的 YAML 文件；path 为空时使用默认值。
// 环境变量优先于文件内容，方便容器化部署时逐项覆盖。
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Service.Name = "loyalty-service"
	cfg.Service.Port = 8084
	cfg.Infra.MySQL.DSN = "root:root@tcp(localhost:3306)/loyalty?charset=utf8mb4&parseTime=True&loc=Local"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Kafka.PurchaseTopic = "purchase-completed"
	cfg.Infra.Kafka.NotificationTopic = "loyalty-notifications"
	cfg.Infra.Kafka.ConsumerGroup = "loyalty-pipeline"
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Nacos.Addrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.Payment.Provider = "mock"
	cfg.Payment.Mock.SuccessRate = 90
	cfg.Pipeline.ProcessingTimeout = Duration(120 * time.Second)
	cfg.Pipeline.MaxAttempts = 3
	cfg.Pipeline.AttemptBackoff = Duration(5 * time.Second)
	cfg.Pipeline.LockBackend = "redis"
	cfg.CashbackRetry.Interval = Duration(time.Minute)
	cfg.CashbackRetry.Backoff = Duration(5 * time.Minute)
	cfg.CashbackRetry.MaxAttempts = 5
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Infra.MySQL.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Infra.Redis.Addr = v
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Infra.Nacos.Addrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Infra.Nacos.Group = v
	}
	if v := os.Getenv("PAYMENT_PROVIDER"); v != "" {
		cfg.Payment.Provider = v
	}
	if v := os.Getenv("PAYSTACK_SECRET_KEY"); v != "" {
		cfg.Payment.Paystack.SecretKey = v
	}
}
