package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.DBEnabled)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "sitter_safety", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, 30*time.Second, cfg.Tracking.TimeInterval)
	assert.Equal(t, 10.0, cfg.Tracking.DistanceInterval)
	assert.Equal(t, 256, cfg.Tracking.ReportQueueSize)

	assert.Equal(t, 5*time.Minute, cfg.Emergency.EscalationTimeout)
	assert.Equal(t, "sitter", cfg.Emergency.PartyRole)
	assert.Empty(t, cfg.Emergency.AuthorityPhones)
	assert.True(t, cfg.Emergency.AutoSOSOnGeofence)

	assert.Equal(t, "auth_token", cfg.Backend.TokenKey)
	assert.Equal(t, 2, cfg.Backend.RetryCount)

	assert.Equal(t, "http", cfg.Notify.PushProvider)
	assert.Equal(t, "sitter-safety:notifications", cfg.Notify.OutboxStream)
	assert.False(t, cfg.Notify.OutboxWorker)

	assert.Equal(t, "sitter-safety:", cfg.Cache.KeyPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "6543")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("TRACKING_TIME_INTERVAL", "15")
	os.Setenv("TRACKING_DISTANCE_INTERVAL", "25.5")
	os.Setenv("EMERGENCY_ESCALATION_TIMEOUT", "2m")
	os.Setenv("EMERGENCY_PARTY_ROLE", "parent")
	os.Setenv("EMERGENCY_AUTHORITY_PHONES", "+15550001, +15550002 ,")
	os.Setenv("EMERGENCY_AUTO_SOS_ON_GEOFENCE", "false")
	os.Setenv("NOTIFY_PUSH_PROVIDER", "fcm")
	os.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 15*time.Second, cfg.Tracking.TimeInterval)
	assert.Equal(t, 25.5, cfg.Tracking.DistanceInterval)
	assert.Equal(t, 2*time.Minute, cfg.Emergency.EscalationTimeout)
	assert.Equal(t, "parent", cfg.Emergency.PartyRole)
	assert.Equal(t, []string{"+15550001", "+15550002"}, cfg.Emergency.AuthorityPhones)
	assert.False(t, cfg.Emergency.AutoSOSOnGeofence)
	assert.Equal(t, "fcm", cfg.Notify.PushProvider)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 清理环境变量
	os.Clearenv()
}

func TestLoad_InvalidPartyRole(t *testing.T) {
	os.Clearenv()
	os.Setenv("EMERGENCY_PARTY_ROLE", "nanny")
	defer os.Clearenv()

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "EMERGENCY_PARTY_ROLE")
}

func TestGetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", c.GetDSN())
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 7, parseInt("x", 7))
	assert.Equal(t, 3*time.Second, parseDuration("3", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("bogus", time.Minute))
	assert.Equal(t, []string{}, parseList(""))
}
