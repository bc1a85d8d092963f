package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.True(t, cfg.DBEnabled)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "infantguard", cfg.Database.Database)
	assert.Equal(t, 15, cfg.Database.MaxConns)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, 4096, cfg.Pipeline.PositionQueueSize)
	assert.Equal(t, 4, cfg.Pipeline.PositionWorkers)

	assert.Equal(t, 30*time.Second, cfg.Tags.StalenessWindow)
	assert.Equal(t, 20, cfg.Tags.LowBatteryPct)

	assert.Equal(t, 15*time.Second, cfg.Gates.HeldOpenThreshold)
	assert.Equal(t, 3*time.Second, cfg.Gates.CorrelationWindow)

	assert.Equal(t, 5*time.Minute, cfg.Escalation.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Cache.RefreshInterval)
	assert.Equal(t, "rtls:tag:", cfg.Cache.TagKeyPrefix)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("DB_PORT", "15432")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("TAG_STALENESS_WINDOW", "45s")
	t.Setenv("GATE_HELD_OPEN_THRESHOLD", "1m")
	t.Setenv("CACHE_REFRESH_INTERVAL", "10s")
	t.Setenv("POSITION_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.False(t, cfg.DBEnabled)
	assert.Equal(t, 15432, cfg.Database.Port)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.Equal(t, 45*time.Second, cfg.Tags.StalenessWindow)
	assert.Equal(t, time.Minute, cfg.Gates.HeldOpenThreshold)
	assert.Equal(t, 10*time.Second, cfg.Cache.RefreshInterval)
	assert.Equal(t, 8, cfg.Pipeline.PositionWorkers)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("TAG_STALENESS_WINDOW", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 30*time.Second, cfg.Tags.StalenessWindow)
}

func TestGetDSN(t *testing.T) {
	c := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "guard",
		Password: "secret",
		Database: "infantguard",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=guard password=secret dbname=infantguard sslmode=require",
		c.GetDSN())
}
