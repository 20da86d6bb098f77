package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	App         AppConfig         `mapstructure:"app" validate:"required"`
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Knowledge   KnowledgeConfig   `mapstructure:"knowledge" validate:"required"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store" validate:"required"`
	AI          AIConfig          `mapstructure:"ai" validate:"required"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	Env      string `mapstructure:"env" validate:"required,oneof=development staging production"`
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port      string          `mapstructure:"port" validate:"required,numeric"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// TrustedProxies 反向代理地址(IP或CIDR)，只有来自这些地址的请求才读取 X-Forwarded-For
	TrustedProxies []string `mapstructure:"trusted_proxies" validate:"dive,ip|cidr"`
}

// RateLimitConfig 按客户端IP的接口限流
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests" validate:"gte=0"`
	Window   time.Duration `mapstructure:"window"`
}

// KnowledgeConfig 分块、检索与请求限制
type KnowledgeConfig struct {
	ChunkSize       int    `mapstructure:"chunk_size" validate:"gt=0"`
	ChunkOverlap    int    `mapstructure:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	TopK            int    `mapstructure:"top_k" validate:"gt=0"`
	Collection      string `mapstructure:"collection" validate:"required"`
	MaxContextChars int    `mapstructure:"max_context_chars" validate:"gt=0"`
	MaxTextChars    int    `mapstructure:"max_text_chars" validate:"gt=0"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes" validate:"gt=0"`
	InventoryLimit  int    `mapstructure:"inventory_limit" validate:"gt=0"`
}

// VectorStoreConfig 向量库配置
type VectorStoreConfig struct {
	Provider string        `mapstructure:"provider" validate:"required,oneof=qdrant milvus memory"`
	Qdrant   QdrantConfig  `mapstructure:"qdrant"`
	Milvus   MilvusConfig  `mapstructure:"milvus"`
	Breaker  BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig 存储端点熔断配置，failure_threshold 为 0 时关闭
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gte=0"`
	SuccessThreshold int           `mapstructure:"success_threshold" validate:"gte=0"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// QdrantConfig Qdrant连接配置，可被请求头覆盖
type QdrantConfig struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MilvusConfig Milvus连接配置
type MilvusConfig struct {
	Address  string `mapstructure:"address"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
}

// AIConfig 模型配置
type AIConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	OpenAIAPIKey   string        `mapstructure:"openai_api_key"`
	EmbeddingModel string        `mapstructure:"embedding_model" validate:"required"`
	ChatModel      string        `mapstructure:"chat_model" validate:"required"`
	Temperature    float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// QueueConfig 事件队列配置
type QueueConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MonitorConfig 监控配置
type MonitorConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// ConfigLoader 配置加载器
type ConfigLoader struct {
	viper     *viper.Viper
	validator *validator.Validate
}

// NewConfigLoader 创建配置加载器，环境变量前缀 RAG，如 RAG_SERVER_PORT
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{
		viper:     v,
		validator: validator.New(),
	}
}

// Load 从默认值、环境变量、配置文件加载配置
func (cl *ConfigLoader) Load() (*Config, error) {
	cl.setDefaults()

	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		cl.viper.SetConfigFile(configFile)
		if err := cl.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	// 兼容无前缀的常用环境变量，优先级高于配置文件
	cl.loadFromEnv()

	var config Config
	if err := cl.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cl.validator.Struct(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认值
func (cl *ConfigLoader) setDefaults() {
	cl.viper.SetDefault("app.name", "rag-backend")
	cl.viper.SetDefault("app.version", "1.0.0")
	cl.viper.SetDefault("app.env", "development")
	cl.viper.SetDefault("app.log_level", "info")

	cl.viper.SetDefault("server.port", "3000")
	cl.viper.SetDefault("server.rate_limit.enabled", false)
	cl.viper.SetDefault("server.rate_limit.requests", 60)
	cl.viper.SetDefault("server.rate_limit.window", "1m")
	cl.viper.SetDefault("server.trusted_proxies", []string{})

	cl.viper.SetDefault("knowledge.chunk_size", 1000)
	cl.viper.SetDefault("knowledge.chunk_overlap", 200)
	cl.viper.SetDefault("knowledge.top_k", 3)
	cl.viper.SetDefault("knowledge.collection", "rag-documents")
	cl.viper.SetDefault("knowledge.max_context_chars", 12000)
	cl.viper.SetDefault("knowledge.max_text_chars", 100000)
	cl.viper.SetDefault("knowledge.max_upload_bytes", 10<<20)
	cl.viper.SetDefault("knowledge.inventory_limit", 5)

	cl.viper.SetDefault("vector_store.provider", "qdrant")
	cl.viper.SetDefault("vector_store.qdrant.url", "http://localhost:6333")
	cl.viper.SetDefault("vector_store.qdrant.api_key", "")
	cl.viper.SetDefault("vector_store.qdrant.timeout", "30s")
	cl.viper.SetDefault("vector_store.milvus.address", "localhost:19530")
	cl.viper.SetDefault("vector_store.milvus.database", "")
	cl.viper.SetDefault("vector_store.milvus.username", "")
	cl.viper.SetDefault("vector_store.milvus.password", "")
	cl.viper.SetDefault("vector_store.milvus.tls", false)
	cl.viper.SetDefault("vector_store.breaker.failure_threshold", 5)
	cl.viper.SetDefault("vector_store.breaker.success_threshold", 1)
	cl.viper.SetDefault("vector_store.breaker.cooldown", "30s")

	cl.viper.SetDefault("ai.base_url", "")
	cl.viper.SetDefault("ai.openai_api_key", "")
	cl.viper.SetDefault("ai.embedding_model", "text-embedding-3-large")
	cl.viper.SetDefault("ai.chat_model", "gpt-4o-mini")
	cl.viper.SetDefault("ai.temperature", 0.1)
	cl.viper.SetDefault("ai.request_timeout", "60s")

	cl.viper.SetDefault("queue.enabled", false)
	cl.viper.SetDefault("queue.kafka.brokers", []string{"localhost:9092"})
	cl.viper.SetDefault("queue.kafka.topic", "knowledge-events")

	cl.viper.SetDefault("monitor.enabled", true)
	cl.viper.SetDefault("monitor.metrics_path", "/metrics")
}

// loadFromEnv 从环境变量加载配置
func (cl *ConfigLoader) loadFromEnv() {
	cl.setFromEnv("server.port", "SERVER_PORT")
	cl.setFromEnv("app.env", "ENV")
	cl.setFromEnv("app.log_level", "LOG_LEVEL")

	cl.setFromEnv("vector_store.qdrant.url", "QDRANT_URL")
	cl.setFromEnv("vector_store.qdrant.api_key", "QDRANT_API_KEY")
	if addr := os.Getenv("MILVUS_ADDRESS"); addr != "" {
		cl.viper.Set("vector_store.milvus.address", addr)
	}

	cl.setFromEnv("ai.openai_api_key", "OPENAI_API_KEY")
	cl.setFromEnv("ai.base_url", "OPENAI_BASE_URL")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cl.viper.Set("queue.kafka.brokers", splitList(brokers))
		cl.viper.Set("queue.enabled", true)
	}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		cl.viper.Set("server.trusted_proxies", splitList(proxies))
	}
}

// splitList 解析逗号分隔的列表
func splitList(value string) []string {
	items := strings.Split(value, ",")
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// setFromEnv 辅助函数：从环境变量设置配置
func (cl *ConfigLoader) setFromEnv(configKey, envKey string) {
	if value := os.Getenv(envKey); value != "" {
		cl.viper.Set(configKey, value)
	}
}
