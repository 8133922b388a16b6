package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	commoncfg "github.com/DEVa-26/Disaster/common/config"
)

// Config relief-allocator 配置
type Config struct {
	HTTP struct {
		Addr string
	}

	DBEnabled bool
	Database  commoncfg.DatabaseConfig

	RedisEnabled bool
	Redis        commoncfg.RedisConfig

	MQTTEnabled bool
	MQTT        commoncfg.MQTTConfig

	Log struct {
		Level  string
		Format string
	}

	// 分配引擎配置
	Allocation struct {
		DefaultRegion string
		RegionAliases map[string]string // 地名 -> 区域编码
		PolicyFile    string            // 为空使用内置需求表
		InventoryFile string            // 初始库存（YAML），可为空
		LockTimeout   time.Duration
		MaxRetries    int
		RetryBackoff  time.Duration

		// OperationTimeout 单次分配/释放的整体时限，不随调用方取消
		OperationTimeout time.Duration
	}

	// Redis Streams 配置
	Stream struct {
		Incidents   string // 入站事件流
		Allocations string // 出站分配结果流
		Group       string
		Consumer    string
		BatchSize   int64
		Block       time.Duration
	}

	// 分类服务（为空表示不启用 /api/v1/signals）
	Classifier struct {
		TextURL  string
		ImageURL string
		Timeout  time.Duration
	}

	// MQTT 主题
	Topics struct {
		Intake string // 入站事件
		Notify string // 出站通知前缀，实际主题 <notify>/<region>
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.DBEnabled = parseBool(getEnv("DB_ENABLED", "false"), false)
	cfg.Database = commoncfg.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "relief",
		SSLMode:  "disable",
		MaxConns: 25,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.RedisEnabled = parseBool(getEnv("REDIS_ENABLED", "false"), false)
	cfg.Redis = commoncfg.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTTEnabled = parseBool(getEnv("MQTT_ENABLED", "false"), false)
	cfg.MQTT = commoncfg.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "relief-allocator",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Allocation.DefaultRegion = getEnv("ALLOC_DEFAULT_REGION", "")
	cfg.Allocation.RegionAliases = parseAliases(getEnv("ALLOC_REGION_ALIASES", ""))
	cfg.Allocation.PolicyFile = getEnv("ALLOC_POLICY_FILE", "")
	cfg.Allocation.InventoryFile = getEnv("ALLOC_INVENTORY_FILE", "")
	cfg.Allocation.LockTimeout = parseDuration(getEnv("ALLOC_LOCK_TIMEOUT", "200ms"), 200*time.Millisecond)
	cfg.Allocation.MaxRetries = parseInt(getEnv("ALLOC_MAX_RETRIES", "3"), 3)
	cfg.Allocation.RetryBackoff = parseDuration(getEnv("ALLOC_RETRY_BACKOFF", "20ms"), 20*time.Millisecond)
	cfg.Allocation.OperationTimeout = parseDuration(getEnv("ALLOC_OPERATION_TIMEOUT", "30s"), 30*time.Second)

	cfg.Stream.Incidents = getEnv("STREAM_INCIDENTS", "relief:stream:incidents")
	cfg.Stream.Allocations = getEnv("STREAM_ALLOCATIONS", "relief:stream:allocations")
	cfg.Stream.Group = getEnv("STREAM_GROUP", "relief-allocator")
	cfg.Stream.Consumer = getEnv("STREAM_CONSUMER", "")
	cfg.Stream.BatchSize = int64(parseInt(getEnv("STREAM_BATCH_SIZE", "10"), 10))
	cfg.Stream.Block = parseDuration(getEnv("STREAM_BLOCK", "1s"), time.Second)

	cfg.Classifier.TextURL = getEnv("CLASSIFIER_TEXT_URL", "")
	cfg.Classifier.ImageURL = getEnv("CLASSIFIER_IMAGE_URL", "")
	cfg.Classifier.Timeout = parseDuration(getEnv("CLASSIFIER_TIMEOUT", "10s"), 10*time.Second)

	cfg.Topics.Intake = getEnv("MQTT_INTAKE_TOPIC", "relief/incidents")
	cfg.Topics.Notify = getEnv("MQTT_NOTIFY_TOPIC", "relief/allocations")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// parseAliases "Mumbai=R1,Pune=R2" -> map；格式错误的项忽略
func parseAliases(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		place, region, ok := strings.Cut(pair, "=")
		place, region = strings.TrimSpace(place), strings.TrimSpace(region)
		if !ok || place == "" || region == "" {
			continue
		}
		out[place] = region
	}
	return out
}
