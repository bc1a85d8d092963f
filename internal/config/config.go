package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseConfig PostgreSQL 配置
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

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig 网关接入 MQTT 配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config 服务配置
type Config struct {
	HTTPAddr  string
	DBEnabled bool

	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 管道参数
	Pipeline struct {
		PositionQueueSize int
		GateQueueSize     int
		PositionWorkers   int
	}

	// 标签状态
	Tags struct {
		StalenessWindow time.Duration // 超过该时长无更新 → inactive
		LowBatteryPct   int
	}

	// 门禁状态机
	Gates struct {
		HeldOpenThreshold time.Duration // OPEN 持续超过该时长 → HELD_OPEN
		CorrelationWindow time.Duration // 刷卡与开门上报的关联窗口
	}

	// 报警升级
	Escalation struct {
		Threshold     time.Duration // critical 未确认超过该时长自动升级
		CheckInterval time.Duration
	}

	// 推送通道
	Transport struct {
		PingInterval      time.Duration
		PongTimeout       time.Duration
		SessionBufferSize int
		SnapshotLimit     int
	}

	// Redis 缓存
	Cache struct {
		TagKeyPrefix    string
		TagTTL          time.Duration
		ActiveAlertKey  string
		StreamPrefix    string
		RefreshInterval time.Duration // 镜像周期对账间隔
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（.env 可选，环境变量覆盖默认值）
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "infantguard")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 15)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "infantguard-ingest")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Pipeline.PositionQueueSize = getEnvInt("POSITION_QUEUE_SIZE", 4096)
	cfg.Pipeline.GateQueueSize = getEnvInt("GATE_QUEUE_SIZE", 1024)
	cfg.Pipeline.PositionWorkers = getEnvInt("POSITION_WORKERS", 4)

	cfg.Tags.StalenessWindow = getEnvDuration("TAG_STALENESS_WINDOW", 30*time.Second)
	cfg.Tags.LowBatteryPct = getEnvInt("TAG_LOW_BATTERY_PCT", 20)

	cfg.Gates.HeldOpenThreshold = getEnvDuration("GATE_HELD_OPEN_THRESHOLD", 15*time.Second)
	cfg.Gates.CorrelationWindow = getEnvDuration("GATE_CORRELATION_WINDOW", 3*time.Second)

	cfg.Escalation.Threshold = getEnvDuration("ESCALATION_THRESHOLD", 5*time.Minute)
	cfg.Escalation.CheckInterval = getEnvDuration("ESCALATION_CHECK_INTERVAL", 60*time.Second)

	cfg.Transport.PingInterval = getEnvDuration("WS_PING_INTERVAL", 25*time.Second)
	cfg.Transport.PongTimeout = getEnvDuration("WS_PONG_TIMEOUT", 60*time.Second)
	cfg.Transport.SessionBufferSize = getEnvInt("WS_SESSION_BUFFER", 256)
	cfg.Transport.SnapshotLimit = getEnvInt("WS_SNAPSHOT_LIMIT", 500)

	cfg.Cache.TagKeyPrefix = getEnv("CACHE_TAG_PREFIX", "rtls:tag:")
	cfg.Cache.TagTTL = getEnvDuration("CACHE_TAG_TTL", 60*time.Second)
	cfg.Cache.ActiveAlertKey = getEnv("CACHE_ALERT_KEY", "rtls:alerts:active")
	cfg.Cache.StreamPrefix = getEnv("CACHE_STREAM_PREFIX", "stream:")
	cfg.Cache.RefreshInterval = getEnvDuration("CACHE_REFRESH_INTERVAL", 30*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// GetDSN 拼接数据库连接串
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
