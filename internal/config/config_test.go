package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.DBEnabled)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "relief", cfg.Database.Database)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.MQTTEnabled)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, 200*time.Millisecond, cfg.Allocation.LockTimeout)
	assert.Equal(t, 3, cfg.Allocation.MaxRetries)
	assert.Equal(t, 20*time.Millisecond, cfg.Allocation.RetryBackoff)
	assert.Equal(t, 30*time.Second, cfg.Allocation.OperationTimeout)
	assert.Empty(t, cfg.Allocation.RegionAliases)

	assert.Equal(t, "relief:stream:incidents", cfg.Stream.Incidents)
	assert.Equal(t, int64(10), cfg.Stream.BatchSize)
	assert.Equal(t, "relief/allocations", cfg.Topics.Notify)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ENABLED", "1")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("ALLOC_DEFAULT_REGION", "R1")
	t.Setenv("ALLOC_REGION_ALIASES", "Mumbai=R1, Pune = R2,broken,=R3")
	t.Setenv("ALLOC_LOCK_TIMEOUT", "1s")
	t.Setenv("ALLOC_MAX_RETRIES", "not-a-number")
	t.Setenv("ALLOC_OPERATION_TIMEOUT", "5s")
	t.Setenv("STREAM_BATCH_SIZE", "50")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.True(t, cfg.DBEnabled)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.Equal(t, "R1", cfg.Allocation.DefaultRegion)
	assert.Equal(t, map[string]string{"Mumbai": "R1", "Pune": "R2"}, cfg.Allocation.RegionAliases)
	assert.Equal(t, time.Second, cfg.Allocation.LockTimeout)
	assert.Equal(t, 3, cfg.Allocation.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Allocation.OperationTimeout)
	assert.Equal(t, int64(50), cfg.Stream.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
}
