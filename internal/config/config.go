package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（接收被跟踪设备上报的定位）
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	DeviceID string // 被跟踪设备ID，用于拼接 sitter/{device_id}/location
}

// Config 安全服务配置
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     RedisConfig
	MQTT      MQTTConfig

	// 跟踪会话配置
	Tracking struct {
		TimeInterval       time.Duration // 最小采样时间间隔，默认 30s
		DistanceInterval   float64       // 最小采样距离间隔（米），默认 10m
		ReportQueueSize    int           // 上报队列长度
		LocationReportRate float64       // 位置上报速率（次/秒）
		LocationFixMaxAge  time.Duration // 单次定位可复用的最大时长
	}

	// 紧急报警配置
	Emergency struct {
		EscalationTimeout time.Duration // 自动升级超时，默认 5 分钟
		PartyID           string        // 本设备用户ID
		PartyRole         string        // sitter 或 parent
		AuthorityPhones   []string      // 升级通知号码
		AutoSOSOnGeofence bool          // 越界时自动触发 SOS
		FanoutLimit       int           // 并发通知上限
	}

	// 后端上报配置
	Backend struct {
		BaseURL          string
		Timeout          time.Duration
		RetryCount       int
		EncryptionSecret string
		TokenKey         string // 凭据存储中的 token 键
	}

	// 通知网关配置
	Notify struct {
		PushProvider            string // fcm, http, stream
		SMSProvider             string // http, stream
		GatewayURL              string
		GatewayAPIKey           string
		FirebaseProjectID       string
		FirebaseCredentialsPath string
		OutboxStream            string
		OutboxGroup             string
		OutboxWorker            bool
	}

	// Redis 缓存配置
	Cache struct {
		KeyPrefix   string // 快照键前缀，如 "sitter-safety:"
		SnapshotTTL int    // 快照 TTL（秒）
		StorePrefix string // 凭据/联系人存储键前缀
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "sitter_safety")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "2"), 2)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "true") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "sitter-safety")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(parseInt(getEnv("MQTT_QOS", "1"), 1))
	cfg.MQTT.DeviceID = getEnv("MQTT_DEVICE_ID", "")

	cfg.Tracking.TimeInterval = parseDuration(getEnv("TRACKING_TIME_INTERVAL", "30s"), 30*time.Second)
	cfg.Tracking.DistanceInterval = parseFloat(getEnv("TRACKING_DISTANCE_INTERVAL", "10"), 10)
	cfg.Tracking.ReportQueueSize = parseInt(getEnv("TRACKING_REPORT_QUEUE", "256"), 256)
	cfg.Tracking.LocationReportRate = parseFloat(getEnv("TRACKING_REPORT_RATE", "1"), 1)
	cfg.Tracking.LocationFixMaxAge = parseDuration(getEnv("TRACKING_FIX_MAX_AGE", "60s"), time.Minute)

	cfg.Emergency.EscalationTimeout = parseDuration(getEnv("EMERGENCY_ESCALATION_TIMEOUT", "5m"), 5*time.Minute)
	cfg.Emergency.PartyID = getEnv("EMERGENCY_PARTY_ID", "")
	cfg.Emergency.PartyRole = getEnv("EMERGENCY_PARTY_ROLE", "sitter")
	cfg.Emergency.AuthorityPhones = parseList(getEnv("EMERGENCY_AUTHORITY_PHONES", ""))
	cfg.Emergency.AutoSOSOnGeofence = getEnv("EMERGENCY_AUTO_SOS_ON_GEOFENCE", "true") == "true"
	cfg.Emergency.FanoutLimit = parseInt(getEnv("EMERGENCY_FANOUT_LIMIT", "8"), 8)

	cfg.Backend.BaseURL = getEnv("BACKEND_BASE_URL", "http://localhost:3000")
	cfg.Backend.Timeout = parseDuration(getEnv("BACKEND_TIMEOUT", "10s"), 10*time.Second)
	cfg.Backend.RetryCount = parseInt(getEnv("BACKEND_RETRY_COUNT", "2"), 2)
	cfg.Backend.EncryptionSecret = getEnv("BACKEND_ENCRYPTION_SECRET", "")
	cfg.Backend.TokenKey = getEnv("BACKEND_TOKEN_KEY", "auth_token")

	cfg.Notify.PushProvider = getEnv("NOTIFY_PUSH_PROVIDER", "http")
	cfg.Notify.SMSProvider = getEnv("NOTIFY_SMS_PROVIDER", "http")
	cfg.Notify.GatewayURL = getEnv("NOTIFY_GATEWAY_URL", "http://localhost:3100")
	cfg.Notify.GatewayAPIKey = getEnv("NOTIFY_GATEWAY_API_KEY", "")
	cfg.Notify.FirebaseProjectID = getEnv("FIREBASE_PROJECT_ID", "")
	cfg.Notify.FirebaseCredentialsPath = getEnv("FIREBASE_CREDENTIALS_PATH", "./serviceAccountKey.json")
	cfg.Notify.OutboxStream = getEnv("NOTIFY_OUTBOX_STREAM", "sitter-safety:notifications")
	cfg.Notify.OutboxGroup = getEnv("NOTIFY_OUTBOX_GROUP", "notifier")
	cfg.Notify.OutboxWorker = getEnv("NOTIFY_OUTBOX_WORKER", "false") == "true"

	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "sitter-safety:")
	cfg.Cache.SnapshotTTL = parseInt(getEnv("CACHE_SNAPSHOT_TTL", "86400"), 86400)
	cfg.Cache.StorePrefix = getEnv("CACHE_STORE_PREFIX", "sitter-safety:store:")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Emergency.PartyRole != "sitter" && c.Emergency.PartyRole != "parent" {
		return fmt.Errorf("invalid EMERGENCY_PARTY_ROLE: %s, valid values: sitter, parent", c.Emergency.PartyRole)
	}
	if c.Emergency.EscalationTimeout <= 0 {
		return fmt.Errorf("EMERGENCY_ESCALATION_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, defaultValue int) int {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return defaultValue
}

func parseFloat(s string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultValue
}

// parseDuration 支持 "30s"、"5m" 以及纯数字（按秒）
func parseDuration(s string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if i, err := strconv.Atoi(s); err == nil {
		return time.Duration(i) * time.Second
	}
	return defaultValue
}

func parseList(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
