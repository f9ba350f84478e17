package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("KAFKA_ENABLED", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.OccupancyTTL)
	assert.False(t, cfg.Telegram.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "memory://")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("AVAILABILITY_CACHE_TTL_SECONDS", "5")
	t.Setenv("TELEGRAM_BOT_TOKEN", "t")
	t.Setenv("TELEGRAM_CHAT_ID", "-1")

	cfg := Load()
	assert.Equal(t, "memory://", cfg.Database.URL)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 5*time.Second, cfg.Redis.OccupancyTTL)
	assert.True(t, cfg.Telegram.Enabled())
}

func TestGetInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("RENTAL_TEST_INT", "many")
	assert.Equal(t, 7, getInt("RENTAL_TEST_INT", 7))
}
